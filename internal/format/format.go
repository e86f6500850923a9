package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"time"
)

// DefaultMaxLength is the largest rendering, in bytes, sent inline.
const DefaultMaxLength = 4000

type Kind string

const (
	KindInline   Kind = "inline"
	KindDocument Kind = "document"
)

// Presentation is a chat-ready rendering of one lookup outcome.
type Presentation struct {
	Kind           Kind    `json:"kind"`
	Success        bool    `json:"success"`
	ReasonCode     string  `json:"reason_code,omitempty"`
	Message        string  `json:"message,omitempty"`
	Command        string  `json:"command"`
	Query          string  `json:"query"`
	Cached         bool    `json:"cached"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	LookupID       string  `json:"lookup_id,omitempty"`

	// Rendered is the pretty JSON document. Inline presentations wrap it in
	// Text; document presentations ship it as the attachment body.
	Rendered string `json:"rendered"`
	Text     string `json:"text,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Meta describes the lookup a result belongs to.
type Meta struct {
	Command string
	Query   string
	Latency time.Duration
	Cached  bool
}

type Config struct {
	Developer string
	PoweredBy string
	MaxLength int
	Now       func() time.Time
}

type Formatter struct {
	developer string
	poweredBy string
	maxLength int
	now       func() time.Time
}

func New(cfg Config) *Formatter {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Formatter{
		developer: cfg.Developer,
		poweredBy: cfg.PoweredBy,
		maxLength: cfg.MaxLength,
		now:       cfg.Now,
	}
}

// Success renders an upstream result. Metadata never overwrites a field the
// upstream already set; non-object results are wrapped under "data".
func (f *Formatter) Success(data json.RawMessage, meta Meta) (Presentation, error) {
	doc, err := decodeObject(data)
	if err != nil {
		return Presentation{}, err
	}

	ms := latencyMS(meta.Latency)
	setDefault(doc, "success", true)
	setDefault(doc, "query", meta.Query)
	setDefault(doc, "command", meta.Command)
	setDefault(doc, "timestamp", f.now().Format(time.RFC3339))
	setDefault(doc, "response_time_ms", ms)
	setDefault(doc, "cached", meta.Cached)
	setDefault(doc, "developer", f.developer)
	setDefault(doc, "powered_by", f.poweredBy)

	p := Presentation{
		Success:        true,
		Command:        meta.Command,
		Query:          meta.Query,
		Cached:         meta.Cached,
		ResponseTimeMS: ms,
	}
	if err := f.render(&p, doc); err != nil {
		return Presentation{}, err
	}
	return p, nil
}

// Failure renders a rejected or failed lookup.
func (f *Formatter) Failure(reasonCode, message string, meta Meta) Presentation {
	doc := map[string]interface{}{
		"error":       true,
		"message":     message,
		"reason_code": reasonCode,
		"command":     meta.Command,
		"query":       meta.Query,
		"timestamp":   f.now().Format(time.RFC3339),
		"developer":   f.developer,
		"powered_by":  f.poweredBy,
	}
	p := Presentation{
		ReasonCode:     reasonCode,
		Message:        message,
		Command:        meta.Command,
		Query:          meta.Query,
		Cached:         meta.Cached,
		ResponseTimeMS: latencyMS(meta.Latency),
	}
	if err := f.render(&p, doc); err != nil {
		// Only strings and bools above; encoding cannot fail.
		p.Kind = KindInline
		p.Text = html.EscapeString(message)
	}
	return p
}

func (f *Formatter) render(p *Presentation, doc map[string]interface{}) error {
	rendered, err := pretty(doc)
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	p.Rendered = rendered

	if len(rendered) > f.maxLength {
		p.Kind = KindDocument
		p.Filename = Filename(p.Command, p.Query)
		p.Caption = f.caption(p)
		return nil
	}

	p.Kind = KindInline
	p.Text = f.inline(p)
	return nil
}

func (f *Formatter) inline(p *Presentation) string {
	var b strings.Builder
	if !p.Success {
		b.WriteString("❌ <b>Lookup failed</b>\n\n")
	}
	b.WriteString(`<pre><code class="language-json">`)
	b.WriteString(html.EscapeString(p.Rendered))
	b.WriteString("</code></pre>\n\n")
	b.WriteString(f.footer())
	if p.ResponseTimeMS > 0 {
		fmt.Fprintf(&b, "⏱ <b>Response Time</b>: %sms\n", formatMS(p.ResponseTimeMS))
	}
	if p.Cached {
		b.WriteString("💾 <b>Cached Response</b>\n")
	}
	return b.String()
}

func (f *Formatter) caption(p *Presentation) string {
	command := p.Command
	if command == "" {
		command = "Data"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📁 <b>%s Lookup Result</b>\n\n", html.EscapeString(command))
	fmt.Fprintf(&b, "🔍 Query: <code>%s</code>\n\n", html.EscapeString(p.Query))
	b.WriteString(f.footer())
	fmt.Fprintf(&b, "📊 Response Time: %sms", formatMS(p.ResponseTimeMS))
	return b.String()
}

func (f *Formatter) footer() string {
	return fmt.Sprintf("🏆 <b>Developer</b>: %s\n⚡ <b>Powered By</b>: %s\n",
		html.EscapeString(f.developer), html.EscapeString(f.poweredBy))
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename builds a safe "<command>_<query>.json" attachment name.
func Filename(command, query string) string {
	name := unsafeFilename.ReplaceAllString(command+"_"+query, "_")
	name = strings.Trim(name, "._")
	if len(name) > 96 {
		name = name[:96]
	}
	if name == "" {
		name = "result"
	}
	return name + ".json"
}

func decodeObject(data json.RawMessage) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return map[string]interface{}{"data": nil}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if obj, ok := value.(map[string]interface{}); ok {
		return obj, nil
	}
	return map[string]interface{}{"data": value}, nil
}

func pretty(doc map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func setDefault(doc map[string]interface{}, key string, value interface{}) {
	if _, ok := doc[key]; !ok {
		doc[key] = value
	}
}

func latencyMS(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

func formatMS(ms float64) string {
	return fmt.Sprintf("%g", ms)
}
