package format

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestFormatter(maxLength int) *Formatter {
	return New(Config{
		Developer: "@dev",
		PoweredBy: "RELAY",
		MaxLength: maxLength,
		Now:       func() time.Time { return testNow },
	})
}

func paddedResult(n int) json.RawMessage {
	return json.RawMessage(`{"pad":"` + strings.Repeat("a", n) + `"}`)
}

func TestSuccessLengthBoundary(t *testing.T) {
	meta := Meta{Command: "num", Query: "12345", Latency: 120 * time.Millisecond}

	base, err := New(Config{Now: func() time.Time { return testNow }, Developer: "@dev", PoweredBy: "RELAY", MaxLength: 1 << 20}).Success(paddedResult(0), meta)
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	pad := DefaultMaxLength - len(base.Rendered)
	if pad <= 0 {
		t.Fatalf("base rendering already exceeds threshold: %d", len(base.Rendered))
	}

	f := newTestFormatter(0)

	atLimit, err := f.Success(paddedResult(pad), meta)
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	if len(atLimit.Rendered) != DefaultMaxLength {
		t.Fatalf("expected rendering of %d bytes, got %d", DefaultMaxLength, len(atLimit.Rendered))
	}
	if atLimit.Kind != KindInline || atLimit.Text == "" || atLimit.Filename != "" {
		t.Fatalf("exactly at threshold must stay inline: %+v", atLimit.Kind)
	}

	over, err := f.Success(paddedResult(pad+1), meta)
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	if len(over.Rendered) != DefaultMaxLength+1 || over.Kind != KindDocument {
		t.Fatalf("one byte over must become a document: kind=%s len=%d", over.Kind, len(over.Rendered))
	}
	if over.Filename != "num_12345.json" || !strings.Contains(over.Caption, "num Lookup Result") {
		t.Fatalf("unexpected attachment metadata %q / %q", over.Filename, over.Caption)
	}
}

func TestSuccessIsDeterministic(t *testing.T) {
	f := newTestFormatter(0)
	meta := Meta{Command: "ip", Query: "1.1.1.1", Latency: 1500 * time.Microsecond, Cached: true}
	data := json.RawMessage(`{"b":2,"a":{"z":1,"y":[3,2,1]}}`)

	first, err := f.Success(data, meta)
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	second, err := f.Success(data, meta)
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	if first.Rendered != second.Rendered || first.Text != second.Text {
		t.Fatalf("formatting is not deterministic")
	}
	if strings.Index(first.Rendered, `"a"`) > strings.Index(first.Rendered, `"b"`) {
		t.Fatalf("keys not sorted:\n%s", first.Rendered)
	}
	if !strings.Contains(first.Text, "Cached Response") || !strings.Contains(first.Text, "1.5ms") {
		t.Fatalf("inline footer missing details:\n%s", first.Text)
	}
}

func TestSuccessKeepsUpstreamFields(t *testing.T) {
	f := newTestFormatter(0)
	data := json.RawMessage(`{"success":false,"query":"upstream","id":12345678901234567890}`)

	p, err := f.Success(data, Meta{Command: "num", Query: "mine"})
	if err != nil {
		t.Fatalf("Success: %v", err)
	}

	var doc map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(p.Rendered))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		t.Fatalf("rendered is not JSON: %v", err)
	}
	if doc["success"] != false || doc["query"] != "upstream" {
		t.Fatalf("upstream fields overwritten: %v", doc)
	}
	if doc["command"] != "num" || doc["developer"] != "@dev" || doc["powered_by"] != "RELAY" {
		t.Fatalf("metadata missing: %v", doc)
	}
	if doc["timestamp"] != testNow.Format(time.RFC3339) {
		t.Fatalf("unexpected timestamp %v", doc["timestamp"])
	}
	if !strings.Contains(p.Rendered, "12345678901234567890") {
		t.Fatalf("large number lost precision:\n%s", p.Rendered)
	}
}

func TestSuccessWrapsNonObjects(t *testing.T) {
	f := newTestFormatter(0)
	p, err := f.Success(json.RawMessage(`[1,"two"]`), Meta{Command: "pincode", Query: "110001"})
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(p.Rendered), &doc); err != nil {
		t.Fatalf("rendered is not an object: %v", err)
	}
	list, ok := doc["data"].([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("non-object not wrapped under data: %v", doc)
	}
}

func TestSuccessRejectsInvalidJSON(t *testing.T) {
	f := newTestFormatter(0)
	if _, err := f.Success(json.RawMessage(`{"x":`), Meta{}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFailure(t *testing.T) {
	f := newTestFormatter(0)
	p := f.Failure("rate_limited", "Rate limit exceeded. Please wait before using /num again.", Meta{Command: "num", Query: "1"})

	if p.Success || p.ReasonCode != "rate_limited" || p.Kind != KindInline {
		t.Fatalf("unexpected failure presentation %+v", p)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(p.Rendered), &doc); err != nil {
		t.Fatalf("rendered is not JSON: %v", err)
	}
	if doc["error"] != true || doc["reason_code"] != "rate_limited" {
		t.Fatalf("unexpected failure body %v", doc)
	}
	if !strings.HasPrefix(p.Text, "❌") {
		t.Fatalf("failure text missing marker: %s", p.Text)
	}
}

func TestInlineTextEscapesHTML(t *testing.T) {
	f := newTestFormatter(0)
	p, err := f.Success(json.RawMessage(`{"raw_response":"<b>x</b> & y"}`), Meta{Command: "gst", Query: "q"})
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	if strings.Contains(p.Text, "<b>x</b>") || !strings.Contains(p.Text, "&lt;b&gt;x&lt;/b&gt; &amp; y") {
		t.Fatalf("payload not escaped:\n%s", p.Text)
	}
	if !strings.Contains(p.Rendered, "<b>x</b> & y") {
		t.Fatalf("rendered document should keep raw characters:\n%s", p.Rendered)
	}
}

func TestFilename(t *testing.T) {
	cases := map[string][2]string{
		"num_12345.json":           {"num", "12345"},
		"email_a_b.c.json":         {"email", "a@b.c"},
		"tginfo_user_name.json":    {"tginfo", "user/name"},
		"vehicle_DL_01_AB_12.json": {"vehicle", "DL 01 AB 12"},
	}
	for want, in := range cases {
		if got := Filename(in[0], in[1]); got != want {
			t.Errorf("Filename(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
	if got := Filename("", ""); got != "result.json" {
		t.Errorf("empty filename = %q", got)
	}
}
