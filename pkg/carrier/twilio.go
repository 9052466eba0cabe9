package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/errors"
)

const defaultTwilioTimeout = 30 * time.Second

// TwilioConfig holds carrier credentials and endpoints
type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	BaseURL     string
	Timeout     time.Duration
}

// TwilioClient implements Client against the Twilio REST API
type TwilioClient struct {
	logger     *logrus.Logger
	config     TwilioConfig
	httpClient *http.Client
}

// NewTwilioClient creates a carrier client
func NewTwilioClient(logger *logrus.Logger, config TwilioConfig) *TwilioClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.twilio.com"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	timeout := defaultTwilioTimeout
	if config.Timeout > 0 {
		timeout = config.Timeout
	}

	return &TwilioClient{
		logger:     logger,
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type twilioCallResponse struct {
	SID      string `json:"sid"`
	Status   string `json:"status"`
	From     string `json:"from"`
	To       string `json:"to"`
	Duration string `json:"duration"`
}

type twilioMessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioCallListResponse struct {
	Calls []twilioCallResponse `json:"calls"`
}

// PlaceCall creates an outbound call. The call plays the given audio URL
// or executes the given TwiML document.
func (c *TwilioClient) PlaceCall(ctx context.Context, params CallParams) (*CallResult, error) {
	form := url.Values{}
	form.Set("To", params.To)
	form.Set("From", c.config.PhoneNumber)
	if params.AudioURL != "" {
		form.Set("Twiml", fmt.Sprintf("<Response><Play>%s</Play></Response>", params.AudioURL))
	} else {
		form.Set("Twiml", params.TwiML)
	}
	if params.StatusCallback != "" {
		form.Set("StatusCallback", params.StatusCallback)
		for _, event := range params.CallbackEvents {
			form.Add("StatusCallbackEvent", event)
		}
	}
	form.Set("MachineDetection", "DetectMessageEnd")
	form.Set("AsyncAmd", "true")

	var resp twilioCallResponse
	if err := c.post(ctx, c.apiURL("Calls.json"), form, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrCarrierFailure, "failed to place call").
			WithField("to", params.To).WithField("cause", err.Error())
	}

	return &CallResult{
		SID:      resp.SID,
		Status:   resp.Status,
		From:     resp.From,
		To:       resp.To,
		Duration: atoiOrZero(resp.Duration),
	}, nil
}

// SendSMS sends a text message from the configured number
func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) (*MessageResult, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.config.PhoneNumber)
	form.Set("Body", body)

	var resp twilioMessageResponse
	if err := c.post(ctx, c.apiURL("Messages.json"), form, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrSMSFailed, "failed to send sms").
			WithField("to", to).WithField("cause", err.Error())
	}

	return &MessageResult{SID: resp.SID, Status: resp.Status}, nil
}

// EndCall forces an in-progress call to completed
func (c *TwilioClient) EndCall(ctx context.Context, callSID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	var resp twilioCallResponse
	if err := c.post(ctx, c.apiURL(fmt.Sprintf("Calls/%s.json", callSID)), form, &resp); err != nil {
		return errors.Wrap(errors.ErrCarrierFailure, "failed to end call").
			WithField("call_sid", callSID).WithField("cause", err.Error())
	}

	return nil
}

// CallHistory lists the most recent calls
func (c *TwilioClient) CallHistory(ctx context.Context, limit int) ([]CallRecord, error) {
	endpoint := fmt.Sprintf("%s?PageSize=%d", c.apiURL("Calls.json"), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

	var resp twilioCallListResponse
	if err := c.do(req, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrCarrierFailure, "failed to fetch call history").
			WithField("cause", err.Error())
	}

	records := make([]CallRecord, 0, len(resp.Calls))
	for _, call := range resp.Calls {
		records = append(records, CallRecord{
			SID:      call.SID,
			Status:   call.Status,
			From:     call.From,
			To:       call.To,
			Duration: atoiOrZero(call.Duration),
		})
	}

	return records, nil
}

// Health checks that the account is reachable
func (c *TwilioClient) Health(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", c.config.BaseURL, c.config.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

	var resp map[string]interface{}
	if err := c.do(req, &resp); err != nil {
		return errors.Wrap(errors.ErrCarrierFailure, "carrier health check failed").
			WithField("cause", err.Error())
	}

	return nil
}

func (c *TwilioClient) apiURL(resource string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", c.config.BaseURL, c.config.AccountSID, resource)
}

func (c *TwilioClient) post(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, out)
}

func (c *TwilioClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
