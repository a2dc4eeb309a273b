package carrier_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/centralino-ai/centralino/internal/carrier"
)

func TestParseFrame_Start(t *testing.T) {
	t.Parallel()
	raw := `{"event":"start","streamSid":"MZ123","start":{"streamSid":"MZ123","callSid":"CA456",
		"customParameters":{"call_sid":"CA456","caller":"+391234567890"}}}`
	f, err := carrier.ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Event != carrier.EventStart {
		t.Errorf("event: got %q", f.Event)
	}
	if f.Start == nil || f.Start.StreamSid != "MZ123" {
		t.Fatalf("start frame: %+v", f.Start)
	}
	if f.Start.CustomParameters["caller"] != "+391234567890" {
		t.Errorf("custom parameters: %+v", f.Start.CustomParameters)
	}
}

func TestParseFrame_Media(t *testing.T) {
	t.Parallel()
	f, err := carrier.ParseFrame([]byte(`{"event":"media","media":{"payload":"//8A"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Event != carrier.EventMedia || f.Media.Payload != "//8A" {
		t.Errorf("media frame: %+v", f)
	}
}

func TestParseFrame_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := carrier.ParseFrame([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := carrier.ParseFrame([]byte(`{"foo":1}`)); err == nil {
		t.Error("expected error for missing event")
	}
}

func TestMediaAndMarkMessages(t *testing.T) {
	t.Parallel()
	media, err := carrier.MediaMessage("MZ1", "AAAA")
	if err != nil {
		t.Fatal(err)
	}
	f, err := carrier.ParseFrame(media)
	if err != nil {
		t.Fatal(err)
	}
	if f.Event != carrier.EventMedia || f.StreamSid != "MZ1" || f.Media.Payload != "AAAA" {
		t.Errorf("media round trip: %+v", f)
	}

	mark, err := carrier.MarkMessage("MZ1", "response_end")
	if err != nil {
		t.Fatal(err)
	}
	f, err = carrier.ParseFrame(mark)
	if err != nil {
		t.Fatal(err)
	}
	if f.Event != carrier.EventMark || f.Mark.Name != "response_end" {
		t.Errorf("mark round trip: %+v", f)
	}
}

func TestStreamTwiML(t *testing.T) {
	t.Parallel()
	got := carrier.StreamTwiML("wss://example.com/twilio/stream", "CA123", "+39055&1")
	for _, want := range []string{
		"<Response>",
		`<Stream url="wss://example.com/twilio/stream">`,
		`<Parameter name="call_sid" value="CA123"/>`,
		`value="+39055&amp;1"`,
		`language="it-IT"`,
		"Un momento per favore",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("twiml missing %q:\n%s", want, got)
		}
	}
}

func TestRestClient_Hangup(t *testing.T) {
	t.Parallel()
	var gotPath, gotStatus string
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "AC1" && pass == "tok"
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		gotStatus = r.PostFormValue("Status")
		w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()

	c, err := carrier.NewRestClient("AC1", "tok", carrier.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Hangup(context.Background(), "CA9"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls/CA9.json" {
		t.Errorf("path: %q", gotPath)
	}
	if gotStatus != "completed" {
		t.Errorf("Status form value: %q", gotStatus)
	}
	if !gotAuth {
		t.Error("basic auth credentials not sent")
	}
}

func TestRestClient_HangupErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := carrier.NewRestClient("AC1", "tok", carrier.WithBaseURL(srv.URL))
	err := c.Hangup(context.Background(), "CA9")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}

func TestRestClient_SendSMS(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC1/Messages.json" {
			t.Errorf("path: %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Error(err)
		}
		if r.PostFormValue("To") != "+391111" || r.PostFormValue("From") != "+392222" {
			t.Errorf("numbers: to=%q from=%q", r.PostFormValue("To"), r.PostFormValue("From"))
		}
		if !strings.Contains(r.PostFormValue("Body"), "maps.google") {
			t.Errorf("body: %q", r.PostFormValue("Body"))
		}
		w.Write([]byte(`{"sid":"SM42"}`))
	}))
	defer srv.Close()

	c, _ := carrier.NewRestClient("AC1", "tok", carrier.WithBaseURL(srv.URL))
	sid, err := c.SendSMS(context.Background(), "+391111", "+392222", "Posizione: https://maps.google.com/?q=43.7,10.4")
	if err != nil {
		t.Fatalf("send sms: %v", err)
	}
	if sid != "SM42" {
		t.Errorf("sid: %q", sid)
	}
}

func TestRestClient_Validation(t *testing.T) {
	t.Parallel()
	if _, err := carrier.NewRestClient("", "tok"); err == nil {
		t.Error("expected error for missing SID")
	}
	c, _ := carrier.NewRestClient("AC1", "tok")
	if err := c.Hangup(context.Background(), ""); err == nil {
		t.Error("expected error for empty call SID")
	}
	if _, err := c.SendSMS(context.Background(), "", "+39", "x"); err == nil {
		t.Error("expected error for empty to number")
	}
}
