package callctl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

type recordedRequest struct {
	method string
	path   string
	user   string
	pass   string
	form   url.Values
}

func newTestClient(t *testing.T, status int, body string) (*Client, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.user, rec.pass, _ = r.BasicAuth()
		_ = r.ParseForm()
		rec.form = r.PostForm
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		AccountSID: "AC123",
		AuthToken:  "tok",
		FromNumber: "+15550000000",
		PublicHost: "bridge.example.com",
		BaseURL:    srv.URL,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, rec
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{}); err != ErrNotConfigured {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	_, err := New(Config{AccountSID: "AC123", AuthToken: "tok", FromNumber: "+15550000000"})
	if err == nil {
		t.Fatal("missing public host accepted")
	}
}

func TestDial_SendsWebhookAndAuth(t *testing.T) {
	c, rec := newTestClient(t, http.StatusCreated,
		`{"sid":"CA1","to":"+15551234567","from":"+15550000000","status":"queued"}`)

	call, err := c.Dial(context.Background(), "+15551234567", "sales")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if call.SID != "CA1" || call.Status != "queued" {
		t.Fatalf("call = %+v", call)
	}

	if rec.method != http.MethodPost || rec.path != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Fatalf("request = %s %s", rec.method, rec.path)
	}
	if rec.user != "AC123" || rec.pass != "tok" {
		t.Fatal("basic auth credentials not sent")
	}
	if got := rec.form.Get("To"); got != "+15551234567" {
		t.Fatalf("To = %q", got)
	}
	if got := rec.form.Get("From"); got != "+15550000000" {
		t.Fatalf("From = %q", got)
	}
	if got := rec.form.Get("Url"); got != "https://bridge.example.com/twilio/voice?context=sales" {
		t.Fatalf("Url = %q", got)
	}
	if got := rec.form.Get("StatusCallback"); got != "https://bridge.example.com/twilio/status" {
		t.Fatalf("StatusCallback = %q", got)
	}
}

func TestStatus_FetchesCall(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK,
		`{"sid":"CA1","status":"in-progress"}`)

	call, err := c.Status(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if call.Status != "in-progress" {
		t.Fatalf("status = %q", call.Status)
	}
	if rec.method != http.MethodGet || rec.path != "/2010-04-01/Accounts/AC123/Calls/CA1.json" {
		t.Fatalf("request = %s %s", rec.method, rec.path)
	}
}

func TestHangup_PostsCompleted(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"sid":"CA1","status":"completed"}`)

	if _, err := c.Hangup(context.Background(), "CA1"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if rec.form.Get("Status") != "completed" {
		t.Fatalf("form = %v", rec.form)
	}
}

func TestDo_SurfacesProviderError(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadRequest, `{"message":"invalid number"}`)

	_, err := c.Dial(context.Background(), "bogus", "")
	if err == nil || err.Error() != "provider rejected request (status 400): invalid number" {
		t.Fatalf("err = %v", err)
	}
}
