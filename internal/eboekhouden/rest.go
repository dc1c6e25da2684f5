package eboekhouden

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/types"
	"ebbridge/pkg/logger"
)

// restPageSize is the page size requested from /v1/mutation.
const restPageSize = 500

// RESTConfig configures the token-based transport.
type RESTConfig struct {
	BaseURL        string
	AccessToken    string
	Source         string // identifier sent to the upstream API
	RequestTimeout time.Duration
	RetryCeiling   int
}

// RESTClient talks to the current HTTP/JSON API. A long-lived access token is
// exchanged for a short-lived session token at /v1/session.
type RESTClient struct {
	cfg          RESTConfig
	http         *http.Client
	retry        retryPolicy
	sessionToken string
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a client for the modern transport.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = "ebbridge"
	}
	return &RESTClient{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		retry: defaultRetryPolicy(cfg.RetryCeiling),
	}
}

// --- wire shapes ---

type restSessionRequest struct {
	AccessToken string `json:"accessToken"`
	Source      string `json:"source"`
}

type restSessionResponse struct {
	Token string `json:"token"`
}

type restRow struct {
	Amount      json.Number `json:"amount"`
	LedgerID    int64       `json:"ledgerId"`
	VATCode     string      `json:"vatCode"`
	Description string      `json:"description"`
}

type restMutation struct {
	ID            int64       `json:"id"`
	Type          string      `json:"type"`
	Date          string      `json:"date"`
	InvoiceNumber string      `json:"invoiceNumber"`
	RelationID    json.Number `json:"relationId"`
	LedgerID      int64       `json:"ledgerId"`
	Description   string      `json:"description"`
	TermOfPayment int         `json:"termOfPayment"`
	Rows          []restRow   `json:"rows"`
}

type restMutationPage struct {
	Items []restMutation `json:"items"`
	Count int            `json:"count"`
}

type restRelation struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"` // "customer", "supplier" or empty
}

type restLedger struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type restErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// restTypeToSoort maps the numeric/enum type codes of the REST API onto the
// legacy Soort vocabulary, so both transports share one kind table.
var restTypeToSoort = map[string]string{
	"1": "FactuurOntvangen",
	"2": "FactuurVerstuurd",
	"3": "FactuurbetalingOntvangen",
	"4": "FactuurbetalingVerstuurd",
	"5": "GeldOntvangen",
	"6": "GeldUitgegeven",
	"7": "Memoriaal",

	"InvoiceReceived":     "FactuurOntvangen",
	"InvoiceSent":         "FactuurVerstuurd",
	"InvoicePaymentReceived": "FactuurbetalingOntvangen",
	"InvoicePaymentSent":  "FactuurbetalingVerstuurd",
	"MoneyReceived":       "GeldOntvangen",
	"MoneySpent":          "GeldUitgegeven",
	"GeneralJournalEntry": "Memoriaal",
}

// OpenSession implements Client.
func (c *RESTClient) OpenSession(ctx context.Context) error {
	payload, _ := json.Marshal(restSessionRequest{
		AccessToken: c.cfg.AccessToken,
		Source:      c.cfg.Source,
	})

	var session restSessionResponse
	err := c.retry.do(ctx, "POST /v1/session", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, "/v1/session", payload, &session)
	})
	if err != nil {
		return err
	}
	if session.Token == "" {
		return apperror.NewAuth("session exchange returned no token")
	}
	c.sessionToken = session.Token
	logger.Debug(ctx, "rest session opened")
	return nil
}

// Close implements Client. The REST session expires server-side; there is no
// explicit close call.
func (c *RESTClient) Close(ctx context.Context) error {
	c.sessionToken = ""
	return nil
}

// FetchHighestMutationID implements Client.
func (c *RESTClient) FetchHighestMutationID(ctx context.Context) (int64, error) {
	if err := c.requireSession(); err != nil {
		return 0, err
	}
	var page restMutationPage
	err := c.retry.do(ctx, "GET /v1/mutation", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, "/v1/mutation?sort=-id&limit=1", nil, &page)
	})
	if err != nil {
		return 0, err
	}
	if len(page.Items) == 0 {
		return 0, nil
	}
	return page.Items[0].ID, nil
}

// FetchRelation implements Client.
func (c *RESTClient) FetchRelation(ctx context.Context, relationCode string) (*PartyInfo, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	path := "/v1/relation?code=" + url.QueryEscape(relationCode)
	var page struct {
		Items []restRelation `json:"items"`
	}
	err := c.retry.do(ctx, "GET /v1/relation", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, path, nil, &page)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range page.Items {
		if r.Code == relationCode {
			info := &PartyInfo{Code: r.Code, Name: r.Name, Kind: PartyUnknown}
			switch r.Type {
			case "customer":
				info.Kind = PartyCustomer
			case "supplier":
				info.Kind = PartySupplier
			}
			return info, nil
		}
	}
	return nil, nil
}

// FetchLedger implements Client. Mutations reference ledgers by code.
func (c *RESTClient) FetchLedger(ctx context.Context, ledgerID int64) (*LedgerInfo, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	code := strconv.FormatInt(ledgerID, 10)
	path := "/v1/ledger?code=" + url.QueryEscape(code)
	var page struct {
		Items []restLedger `json:"items"`
	}
	err := c.retry.do(ctx, "GET /v1/ledger", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodGet, path, nil, &page)
	})
	if err != nil {
		return nil, err
	}
	for _, l := range page.Items {
		if l.Code == code {
			return &LedgerInfo{Code: ledgerID, Name: l.Description, Category: l.Category}, nil
		}
	}
	return nil, nil
}

// FetchMutations implements Client.
func (c *RESTClient) FetchMutations(ctx context.Context, w Window) (MutationSeq, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	return &restSeq{client: c, window: w}, nil
}

type restSeq struct {
	client *RESTClient
	window Window
	offset int
	buf    []Mutation
	done   bool
}

func (s *restSeq) Next(ctx context.Context) (*Mutation, error) {
	for len(s.buf) == 0 && !s.done {
		if err := s.fetchPage(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.buf) == 0 {
		return nil, nil
	}
	m := s.buf[0]
	s.buf = s.buf[1:]
	return &m, nil
}

func (s *restSeq) fetchPage(ctx context.Context) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(restPageSize))
	q.Set("offset", strconv.Itoa(s.offset))
	q.Set("sort", "id")
	if !s.window.FromDate.IsZero() {
		q.Set("from", s.window.FromDate.Format("2006-01-02"))
	}
	if !s.window.ToDate.IsZero() {
		q.Set("to", s.window.ToDate.Format("2006-01-02"))
	}
	if s.window.FromID > 0 {
		q.Set("idFrom", strconv.FormatInt(s.window.FromID, 10))
	}
	if s.window.ToID > 0 {
		q.Set("idTo", strconv.FormatInt(s.window.ToID, 10))
	}

	var page restMutationPage
	err := s.client.retry.do(ctx, "GET /v1/mutation", func(ctx context.Context) error {
		return s.client.doJSON(ctx, http.MethodGet, "/v1/mutation?"+q.Encode(), nil, &page)
	})
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		s.done = true
		return nil
	}

	buf := make([]Mutation, 0, len(page.Items))
	for _, raw := range page.Items {
		m, err := normalizeREST(raw)
		if err != nil {
			return err
		}
		buf = append(buf, *m)
	}
	sort.Slice(buf, func(i, j int) bool { return buf[i].ID < buf[j].ID })
	s.buf = buf
	s.offset += len(page.Items)
	if len(page.Items) < restPageSize {
		s.done = true
	}
	return nil
}

func normalizeREST(raw restMutation) (*Mutation, error) {
	date, err := parseRESTDate(raw.Date)
	if err != nil {
		return nil, apperror.NewData("unparseable mutation date").
			WithDetail("mutation_id", raw.ID).
			WithDetail("date", raw.Date)
	}

	soort := raw.Type
	if mapped, ok := restTypeToSoort[raw.Type]; ok {
		soort = mapped
	}

	m := &Mutation{
		ID:              raw.ID,
		Kind:            KindOfSoort(soort),
		Date:            date,
		InvoiceNumber:   raw.InvoiceNumber,
		RelationCode:    raw.RelationID.String(),
		LedgerID:        raw.LedgerID,
		Description:     raw.Description,
		PaymentTermDays: raw.TermOfPayment,
	}
	if m.RelationCode == "0" {
		m.RelationCode = ""
	}

	for _, row := range raw.Rows {
		amount, err := types.NewMoneyFromString(row.Amount.String())
		if err != nil {
			return nil, apperror.NewData("unparseable row amount").
				WithDetail("mutation_id", raw.ID).
				WithDetail("amount", row.Amount.String())
		}
		m.Lines = append(m.Lines, Line{
			Amount:      amount,
			LedgerID:    row.LedgerID,
			VATCode:     row.VATCode,
			Description: row.Description,
		})
	}
	return m, nil
}

func parseRESTDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// doJSON performs one request with the session token and decodes the body.
func (c *RESTClient) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return apperror.NewInternal(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.NewTransport(err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return apperror.NewTransport(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperror.NewAuth(restErrorMessage(raw, resp.StatusCode))
	case resp.StatusCode >= 400:
		return apperror.NewData(restErrorMessage(raw, resp.StatusCode)).
			WithDetail("status", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return apperror.NewData("malformed JSON response").WithCause(err)
	}
	return nil
}

func restErrorMessage(raw []byte, status int) string {
	var body restErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return fmt.Sprintf("upstream returned status %d", status)
}

func (c *RESTClient) requireSession() error {
	if c.sessionToken == "" {
		return apperror.NewAuth("no open session")
	}
	return nil
}
