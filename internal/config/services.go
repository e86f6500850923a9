package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceDescriptor is the static description of one upstream lookup API.
type ServiceDescriptor struct {
	Name     string        `yaml:"name"`
	BaseURL  string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
	Category string        `yaml:"category"`
}

type servicesFile struct {
	Services []ServiceDescriptor `yaml:"services"`
}

var defaultServices = []ServiceDescriptor{
	{Name: "num", BaseURL: "https://openosintx.vippanel.in/num.php?key=OpenOSINTX-FREE&number=", Category: "NUMBER"},
	{Name: "tg2num", BaseURL: "https://openosintx.vippanel.in/tginfo.php?key=OpenOSINTX-FREE&number=", Category: "TELEGRAM"},
	{Name: "tginfo", BaseURL: "https://openosintx.vippanel.in/tgusrinfo.php?key=OpenOSINTX-FREE&user=", Category: "TELEGRAM"},
	{Name: "vehicle", BaseURL: "https://vehicle-info-aco-api.vercel.app/info?vehicle=", Category: "VEHICLE"},
	{Name: "email", BaseURL: "https://abbas-apis.vercel.app/api/email?mail=", Category: "EMAIL"},
	{Name: "ifsc", BaseURL: "https://abbas-apis.vercel.app/api/ifsc?ifsc=", Category: "BANKING"},
	{Name: "pincode", BaseURL: "https://api.postalpincode.in/pincode/", Category: "LOCATION"},
	{Name: "insta", BaseURL: "https://mkhossain.alwaysdata.net/instanum.php?username=", Category: "SOCIAL"},
	{Name: "github", BaseURL: "https://abbas-apis.vercel.app/api/github?username=", Category: "DEVELOPER"},
	{Name: "gst", BaseURL: "https://veerulookup.onrender.com/search_gst?gst=", Category: "BUSINESS"},
	{Name: "pakistan", BaseURL: "https://abbas-apis.vercel.app/api/pakistan?number=", Category: "NUMBER"},
	{Name: "ip", BaseURL: "https://abbas-apis.vercel.app/api/ip?ip=", Category: "NETWORK"},
	{Name: "ffinfo", BaseURL: "https://abbas-apis.vercel.app/api/ff-info?uid=", Category: "GAMING"},
	{Name: "ffban", BaseURL: "https://abbas-apis.vercel.app/api/ff-ban?uid=", Category: "GAMING"},
}

// LoadServices builds the service catalogue. Built-in descriptors can be
// overridden with API_<NAME> variables; an optional YAML file replaces or
// extends entries by name.
func LoadServices(path string, timeout time.Duration, retries int) ([]ServiceDescriptor, error) {
	byName := make(map[string]ServiceDescriptor, len(defaultServices))
	for _, svc := range defaultServices {
		svc.BaseURL = getEnv("API_"+strings.ToUpper(svc.Name), svc.BaseURL)
		byName[svc.Name] = svc
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read services file: %w", err)
		}
		var file servicesFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse services file: %w", err)
		}
		for _, svc := range file.Services {
			svc.Name = strings.ToLower(strings.TrimSpace(svc.Name))
			if svc.Name == "" || svc.BaseURL == "" {
				return nil, fmt.Errorf("services file %s: entry requires name and url", path)
			}
			byName[svc.Name] = svc
		}
	}

	services := make([]ServiceDescriptor, 0, len(byName))
	for _, svc := range byName {
		if svc.Timeout <= 0 {
			svc.Timeout = timeout
		}
		if svc.Retries <= 0 {
			svc.Retries = retries
		}
		if svc.Retries <= 0 {
			svc.Retries = 1
		}
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}
