// Package broker provides the Kite trading API client used to authenticate,
// read open positions, fetch last traded prices, and place hedge orders.
package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Order parameters the hedger sends: protective buys are always regular
// day-validity market orders in the NRML product.
const (
	ExchangeNSE = "NSE"
	ExchangeNFO = "NFO"

	TransactionBuy = "BUY"

	OrderTypeMarket = "MARKET"

	ProductNRML = "NRML"

	ValidityDay = "DAY"

	VarietyRegular = "regular"
)

// kiteVersion is the API version header Kite expects on every request.
const kiteVersion = "3"

// APIError represents a Kite API error with status code and server message.
type APIError struct {
	Status    int
	ErrorType string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kite API error %d (%s): %s", e.Status, e.ErrorType, e.Message)
}

// AuthError reports a failed login or an expired/invalid token. The session
// is left unauthenticated; there is no automatic retry.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Message }

// OrderError reports a single failed order placement. It carries the failing
// contract symbol so the operator can re-submit manually.
type OrderError struct {
	TradingSymbol string
	Err           error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order for %s failed: %v", e.TradingSymbol, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Profile holds the subset of the user profile shown after login.
type Profile struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Broker   string `json:"broker"`
}

// OrderRequest carries the parameters of a single regular order.
type OrderRequest struct {
	Exchange        string
	TradingSymbol   string
	TransactionType string
	Quantity        int
	Product         string
	OrderType       string
	Validity        string
	Tag             string
}

// KiteAPI is an HTTP client for the Kite web API, authenticated with the
// enctoken issued by the interactive login flow. The client and base URL
// are fixed after construction; the token may be adopted concurrently with
// in-flight requests and is guarded by mu.
type KiteAPI struct {
	client  *http.Client
	baseURL string

	mu    sync.RWMutex
	token string
}

// NewKiteAPI creates a Kite client. An empty baseURL selects the production
// endpoint.
func NewKiteAPI(baseURL string) *KiteAPI {
	if baseURL == "" {
		baseURL = "https://kite.zerodha.com"
	}
	return &KiteAPI{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (k *KiteAPI) WithHTTPClient(c *http.Client) *KiteAPI {
	if c != nil {
		k.client = c
	}
	return k
}

// WithTimeout sets the HTTP client timeout.
func (k *KiteAPI) WithTimeout(timeout time.Duration) *KiteAPI {
	k.client.Timeout = timeout
	return k
}

// Token returns the current enctoken, empty when unauthenticated.
func (k *KiteAPI) Token() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.token
}

func (k *KiteAPI) setToken(token string) {
	k.mu.Lock()
	k.token = token
	k.mu.Unlock()
}

type loginResponse struct {
	Data struct {
		RequestID string `json:"request_id"`
	} `json:"data"`
}

// Login performs the two-step interactive login: password first, then the
// time-based one-time code. On success the client adopts the issued enctoken
// and returns it for persistence.
func (k *KiteAPI) Login(userID, password, totp string) (string, error) {
	form := url.Values{}
	form.Set("user_id", userID)
	form.Set("password", password)

	var login loginResponse
	if err := k.postForm("/api/login", form, &login); err != nil {
		return "", wrapAuth(err)
	}
	if login.Data.RequestID == "" {
		return "", &AuthError{Message: "login did not return a request id"}
	}

	form = url.Values{}
	form.Set("user_id", userID)
	form.Set("request_id", login.Data.RequestID)
	form.Set("twofa_value", totp)
	form.Set("twofa_type", "totp")

	token, err := k.postTwoFA("/api/twofa", form)
	if err != nil {
		return "", wrapAuth(err)
	}

	k.setToken(token)
	return token, nil
}

// wrapAuth converts 4xx API errors into AuthError; everything else passes
// through unchanged.
func wrapAuth(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
		return &AuthError{Message: apiErr.Message}
	}
	return err
}

// postTwoFA submits the second factor and captures the enctoken cookie.
func (k *KiteAPI) postTwoFA(path string, form url.Values) (string, error) {
	req, err := http.NewRequest(http.MethodPost, k.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", kiteVersion)

	resp, err := k.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseAPIError(resp.StatusCode, body)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "enctoken" && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", &AuthError{Message: "no enctoken in twofa response"}
}

// CheckToken validates a previously persisted enctoken. A valid token is
// adopted by the client. An invalid token reports false without error so the
// caller can fall back to the logged-out state.
func (k *KiteAPI) CheckToken(token string) (bool, error) {
	probe := &KiteAPI{client: k.client, baseURL: k.baseURL, token: token}
	if _, err := probe.Profile(); err != nil {
		var authErr *AuthError
		var apiErr *APIError
		if errors.As(err, &authErr) || (errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500) {
			return false, nil
		}
		return false, err
	}

	k.setToken(token)
	return true, nil
}

// Profile fetches the logged-in user's profile.
func (k *KiteAPI) Profile() (*Profile, error) {
	var response struct {
		Data Profile `json:"data"`
	}
	if err := k.get("/oms/user/profile", nil, &response); err != nil {
		return nil, err
	}
	return &response.Data, nil
}

// Positions returns the account's net open positions.
func (k *KiteAPI) Positions() ([]PositionRecord, error) {
	var response struct {
		Data struct {
			Net []PositionRecord `json:"net"`
		} `json:"data"`
	}
	if err := k.get("/oms/portfolio/positions", nil, &response); err != nil {
		return nil, err
	}
	return response.Data.Net, nil
}

// LastTradedPrice fetches the LTP for an equity/index symbol on NSE.
func (k *KiteAPI) LastTradedPrice(symbol string) (float64, error) {
	instrument := ExchangeNSE + ":" + symbol

	params := url.Values{}
	params.Set("i", instrument)

	var response struct {
		Data map[string]struct {
			LastPrice float64 `json:"last_price"`
		} `json:"data"`
	}
	if err := k.get("/oms/quote/ltp", params, &response); err != nil {
		return 0, err
	}

	quote, ok := response.Data[instrument]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", instrument)
	}
	return quote.LastPrice, nil
}

// PlaceOrder submits one regular order and returns the exchange order id.
// Failures are wrapped in OrderError so callers can report them per contract.
func (k *KiteAPI) PlaceOrder(req OrderRequest) (string, error) {
	form := url.Values{}
	form.Set("exchange", req.Exchange)
	form.Set("tradingsymbol", req.TradingSymbol)
	form.Set("transaction_type", req.TransactionType)
	form.Set("quantity", strconv.Itoa(req.Quantity))
	form.Set("product", req.Product)
	form.Set("order_type", req.OrderType)
	form.Set("validity", req.Validity)
	if req.Tag != "" {
		form.Set("tag", req.Tag)
	}

	var response struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := k.postForm("/oms/orders/"+VarietyRegular, form, &response); err != nil {
		return "", &OrderError{TradingSymbol: req.TradingSymbol, Err: err}
	}
	if response.Data.OrderID == "" {
		return "", &OrderError{TradingSymbol: req.TradingSymbol, Err: errors.New("no order id in response")}
	}
	return response.Data.OrderID, nil
}

// ============ transport helpers ============

func (k *KiteAPI) get(path string, params url.Values, out interface{}) error {
	endpoint := k.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return k.do(http.MethodGet, endpoint, "", "", out)
}

func (k *KiteAPI) postForm(path string, form url.Values, out interface{}) error {
	return k.do(http.MethodPost, k.baseURL+path, form.Encode(), "application/x-www-form-urlencoded", out)
}

func (k *KiteAPI) do(method, endpoint, body, contentType string, out interface{}) error {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	if token := k.Token(); token != "" {
		req.Header.Set("Authorization", "enctoken "+token)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		apiErr := parseAPIError(resp.StatusCode, data)
		var typed *APIError
		if errors.As(apiErr, &typed) && typed.ErrorType == "TokenException" {
			return &AuthError{Message: typed.Message}
		}
		return apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	var payload struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		ErrorType string `json:"error_type"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return &APIError{Status: status, ErrorType: payload.ErrorType, Message: payload.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
}
