package carrier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecall-server/pkg/errors"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestClient(serverURL string) *TwilioClient {
	return NewTwilioClient(newTestLogger(), TwilioConfig{
		AccountSID:  "AC123",
		AuthToken:   "secret",
		PhoneNumber: "+15550009999",
		BaseURL:     serverURL,
	})
}

func TestPlaceCall(t *testing.T) {
	var gotForm map[string][]string
	var gotUser, gotPass string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2010-04-01/Accounts/AC123/Calls.json", r.URL.Path)
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA111","status":"queued","from":"+15550009999","to":"+15550001234"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	result, err := client.PlaceCall(context.Background(), CallParams{
		To:             "+15550001234",
		AudioURL:       "https://cdn.example.com/a.mp3",
		StatusCallback: "https://example.com/status",
		CallbackEvents: []string{"initiated", "completed"},
	})
	require.NoError(t, err)

	assert.Equal(t, "CA111", result.SID)
	assert.Equal(t, "queued", result.Status)
	assert.Equal(t, "AC123", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "+15550001234", gotForm["To"][0])
	assert.Contains(t, gotForm["Twiml"][0], "https://cdn.example.com/a.mp3")
	assert.Equal(t, []string{"initiated", "completed"}, gotForm["StatusCallbackEvent"])
}

func TestPlaceCallCarrierError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid number"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.PlaceCall(context.Background(), CallParams{To: "bogus", TwiML: "<Response/>"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCarrierFailure))
}

func TestSendSMS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		_, _ = w.Write([]byte(`{"sid":"SM222","status":"queued"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	result, err := client.SendSMS(context.Background(), "+15550001234", "hello")
	require.NoError(t, err)
	assert.Equal(t, "SM222", result.SID)
}

func TestEndCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2010-04-01/Accounts/AC123/Calls/CA111.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "completed", r.PostForm.Get("Status"))
		_, _ = w.Write([]byte(`{"sid":"CA111","status":"completed"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.EndCall(context.Background(), "CA111"))
}

func TestCallHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("PageSize"))
		_, _ = w.Write([]byte(`{"calls":[
			{"sid":"CA1","status":"completed","duration":"42"},
			{"sid":"CA2","status":"no-answer","duration":""}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	records, err := client.CallHistory(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 42, records[0].Duration)
	assert.Equal(t, 0, records[1].Duration)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2010-04-01/Accounts/AC123.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"active"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	assert.NoError(t, client.Health(context.Background()))
}
