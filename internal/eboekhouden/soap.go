package eboekhouden

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/types"
	"ebbridge/pkg/logger"
)

// soapPageSize is the hard cap of the legacy GetMutaties call.
const soapPageSize = 500

// SOAPConfig configures the legacy transport.
type SOAPConfig struct {
	URL            string
	Username       string
	SecurityCode1  string
	SecurityCode2  string
	RequestTimeout time.Duration
	RetryCeiling   int
}

// SOAPClient talks to the legacy envelope-based service. Sessions are
// explicit: OpenSession yields a GUID that every call carries.
type SOAPClient struct {
	cfg       SOAPConfig
	http      *http.Client
	retry     retryPolicy
	sessionID string
}

var _ Client = (*SOAPClient)(nil)

// NewSOAPClient creates a client for the legacy transport.
func NewSOAPClient(cfg SOAPConfig) *SOAPClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &SOAPClient{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		retry: defaultRetryPolicy(cfg.RetryCeiling),
	}
}

// --- wire shapes (response side; requests are templated) ---

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type soapError struct {
	LastErrorCode        string `xml:"LastErrorCode"`
	LastErrorDescription string `xml:"LastErrorDescription"`
}

type openSessionResult struct {
	Error     soapError `xml:"ErrorMsg"`
	SessionID string    `xml:"SessionID"`
}

type mutatieRegel struct {
	BedragInvoer      string `xml:"BedragInvoer"`
	BTWCode           string `xml:"BTWCode"`
	TegenrekeningCode string `xml:"TegenrekeningCode"`
	Omschrijving      string `xml:"Omschrijving"`
}

type mutatie struct {
	MutatieNr        int64          `xml:"MutatieNr"`
	Soort            string         `xml:"Soort"`
	Datum            string         `xml:"Datum"`
	Rekening         string         `xml:"Rekening"`
	RelatieCode      string         `xml:"RelatieCode"`
	Factuurnummer    string         `xml:"Factuurnummer"`
	Omschrijving     string         `xml:"Omschrijving"`
	Betalingstermijn string         `xml:"Betalingstermijn"`
	Regels           []mutatieRegel `xml:"MutatieRegels>cMutatieListRegel"`
}

type getMutatiesResult struct {
	Error    soapError `xml:"ErrorMsg"`
	Mutaties []mutatie `xml:"Mutaties>cMutatieList"`
}

type relatie struct {
	Code    string `xml:"Code"`
	Bedrijf string `xml:"Bedrijf"`
	BP      string `xml:"BP"`
}

type getRelatiesResult struct {
	Error    soapError `xml:"ErrorMsg"`
	Relaties []relatie `xml:"Relaties>cRelatie"`
}

type grootboek struct {
	Code         string `xml:"Code"`
	Omschrijving string `xml:"Omschrijving"`
	Categorie    string `xml:"Categorie"`
}

type getGrootboekrekeningenResult struct {
	Error      soapError   `xml:"ErrorMsg"`
	Rekeningen []grootboek `xml:"Rekeningen>cGrootboek"`
}

type getMaxMutatieNrResult struct {
	Error     soapError `xml:"ErrorMsg"`
	MutatieNr int64     `xml:"MutatieNr"`
}

// OpenSession implements Client.
func (c *SOAPClient) OpenSession(ctx context.Context) error {
	body := fmt.Sprintf(
		`<OpenSession xmlns="http://www.e-boekhouden.nl/soap"><Username>%s</Username><SecurityCode1>%s</SecurityCode1><SecurityCode2>%s</SecurityCode2></OpenSession>`,
		xmlEscape(c.cfg.Username), xmlEscape(c.cfg.SecurityCode1), xmlEscape(c.cfg.SecurityCode2),
	)

	var result openSessionResult
	err := c.retry.do(ctx, "OpenSession", func(ctx context.Context) error {
		return c.call(ctx, "OpenSession", body, "OpenSessionResult", &result)
	})
	if err != nil {
		return err
	}
	if result.Error.LastErrorCode != "" {
		// Session-open errors are credential problems, never retried.
		return apperror.NewAuth(result.Error.LastErrorDescription).
			WithDetail("error_code", result.Error.LastErrorCode)
	}
	if result.SessionID == "" {
		return apperror.NewData("OpenSession returned no session id")
	}
	c.sessionID = result.SessionID
	logger.Debug(ctx, "soap session opened")
	return nil
}

// Close implements Client.
func (c *SOAPClient) Close(ctx context.Context) error {
	if c.sessionID == "" {
		return nil
	}
	body := fmt.Sprintf(
		`<CloseSession xmlns="http://www.e-boekhouden.nl/soap"><SessionID>%s</SessionID></CloseSession>`,
		xmlEscape(c.sessionID),
	)
	err := c.call(ctx, "CloseSession", body, "", nil)
	c.sessionID = ""
	return err
}

// FetchHighestMutationID implements Client.
func (c *SOAPClient) FetchHighestMutationID(ctx context.Context) (int64, error) {
	if err := c.requireSession(); err != nil {
		return 0, err
	}
	body := fmt.Sprintf(
		`<GetMaxMutatieNr xmlns="http://www.e-boekhouden.nl/soap"><SessionID>%s</SessionID><SecurityCode2>%s</SecurityCode2></GetMaxMutatieNr>`,
		xmlEscape(c.sessionID), xmlEscape(c.cfg.SecurityCode2),
	)
	var result getMaxMutatieNrResult
	err := c.retry.do(ctx, "GetMaxMutatieNr", func(ctx context.Context) error {
		return c.call(ctx, "GetMaxMutatieNr", body, "GetMaxMutatieNrResult", &result)
	})
	if err != nil {
		return 0, err
	}
	if result.Error.LastErrorCode != "" {
		return 0, apperror.NewData(result.Error.LastErrorDescription)
	}
	return result.MutatieNr, nil
}

// FetchRelation implements Client.
func (c *SOAPClient) FetchRelation(ctx context.Context, relationCode string) (*PartyInfo, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	body := fmt.Sprintf(
		`<GetRelaties xmlns="http://www.e-boekhouden.nl/soap"><SessionID>%s</SessionID><SecurityCode2>%s</SecurityCode2><cFilter><Trefwoord></Trefwoord><Code>%s</Code><ID>0</ID></cFilter></GetRelaties>`,
		xmlEscape(c.sessionID), xmlEscape(c.cfg.SecurityCode2), xmlEscape(relationCode),
	)
	var result getRelatiesResult
	err := c.retry.do(ctx, "GetRelaties", func(ctx context.Context) error {
		return c.call(ctx, "GetRelaties", body, "GetRelatiesResult", &result)
	})
	if err != nil {
		return nil, err
	}
	if result.Error.LastErrorCode != "" {
		return nil, apperror.NewData(result.Error.LastErrorDescription)
	}
	for _, r := range result.Relaties {
		if r.Code == relationCode {
			return &PartyInfo{Code: r.Code, Name: r.Bedrijf, Kind: PartyUnknown}, nil
		}
	}
	return nil, nil
}

// FetchLedger implements Client. Mutations reference ledgers by their numeric
// code, so the lookup filters GetGrootboekrekeningen by code.
func (c *SOAPClient) FetchLedger(ctx context.Context, ledgerID int64) (*LedgerInfo, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	code := strconv.FormatInt(ledgerID, 10)
	body := fmt.Sprintf(
		`<GetGrootboekrekeningen xmlns="http://www.e-boekhouden.nl/soap"><SessionID>%s</SessionID><SecurityCode2>%s</SecurityCode2><cFilter><ID>0</ID><Code>%s</Code><Categorie></Categorie></cFilter></GetGrootboekrekeningen>`,
		xmlEscape(c.sessionID), xmlEscape(c.cfg.SecurityCode2), xmlEscape(code),
	)
	var result getGrootboekrekeningenResult
	err := c.retry.do(ctx, "GetGrootboekrekeningen", func(ctx context.Context) error {
		return c.call(ctx, "GetGrootboekrekeningen", body, "GetGrootboekrekeningenResult", &result)
	})
	if err != nil {
		return nil, err
	}
	if result.Error.LastErrorCode != "" {
		return nil, apperror.NewData(result.Error.LastErrorDescription)
	}
	for _, r := range result.Rekeningen {
		if strings.TrimSpace(r.Code) == code {
			return &LedgerInfo{Code: ledgerID, Name: r.Omschrijving, Category: r.Categorie}, nil
		}
	}
	return nil, nil
}

// FetchMutations implements Client. The legacy service caps each call at 500
// records, so the sequence pages by mutation number, carrying the date bounds
// on every page.
func (c *SOAPClient) FetchMutations(ctx context.Context, w Window) (MutationSeq, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	return &soapSeq{client: c, window: w, cursor: w.FromID}, nil
}

type soapSeq struct {
	client *SOAPClient
	window Window
	cursor int64
	buf    []Mutation
	done   bool
}

func (s *soapSeq) Next(ctx context.Context) (*Mutation, error) {
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

func (s *soapSeq) fetchPage(ctx context.Context) error {
	c := s.client
	var filter strings.Builder
	fmt.Fprintf(&filter, "<MutatieNrVan>%d</MutatieNrVan>", s.cursor)
	if s.window.ToID > 0 {
		fmt.Fprintf(&filter, "<MutatieNrTm>%d</MutatieNrTm>", s.window.ToID)
	}
	if !s.window.FromDate.IsZero() {
		fmt.Fprintf(&filter, "<DatumVan>%s</DatumVan>", s.window.FromDate.Format("2006-01-02"))
	}
	if !s.window.ToDate.IsZero() {
		fmt.Fprintf(&filter, "<DatumTm>%s</DatumTm>", s.window.ToDate.Format("2006-01-02"))
	}

	body := fmt.Sprintf(
		`<GetMutaties xmlns="http://www.e-boekhouden.nl/soap"><SessionID>%s</SessionID><SecurityCode2>%s</SecurityCode2><cFilter>%s</cFilter></GetMutaties>`,
		xmlEscape(c.sessionID), xmlEscape(c.cfg.SecurityCode2), filter.String(),
	)

	var result getMutatiesResult
	err := c.retry.do(ctx, "GetMutaties", func(ctx context.Context) error {
		return c.call(ctx, "GetMutaties", body, "GetMutatiesResult", &result)
	})
	if err != nil {
		return err
	}
	if result.Error.LastErrorCode != "" {
		return apperror.NewData(result.Error.LastErrorDescription).
			WithDetail("error_code", result.Error.LastErrorCode)
	}
	if len(result.Mutaties) == 0 {
		s.done = true
		return nil
	}

	page := make([]Mutation, 0, len(result.Mutaties))
	for _, raw := range result.Mutaties {
		m, err := normalizeSOAP(raw)
		if err != nil {
			return err
		}
		page = append(page, *m)
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	s.buf = page
	s.cursor = page[len(page)-1].ID + 1
	if len(result.Mutaties) < soapPageSize {
		s.done = true
	}
	if s.window.ToID > 0 && s.cursor > s.window.ToID {
		s.done = true
	}
	return nil
}

func normalizeSOAP(raw mutatie) (*Mutation, error) {
	date, err := parseSOAPDate(raw.Datum)
	if err != nil {
		return nil, apperror.NewData("unparseable mutation date").
			WithDetail("mutation_id", raw.MutatieNr).
			WithDetail("date", raw.Datum)
	}

	terms := 0
	if raw.Betalingstermijn != "" {
		// Historical data carries junk here; a bad value means no terms.
		terms, _ = strconv.Atoi(strings.TrimSpace(raw.Betalingstermijn))
	}

	m := &Mutation{
		ID:              raw.MutatieNr,
		Kind:            KindOfSoort(raw.Soort),
		Date:            date,
		InvoiceNumber:   strings.TrimSpace(raw.Factuurnummer),
		RelationCode:    strings.TrimSpace(raw.RelatieCode),
		Description:     raw.Omschrijving,
		PaymentTermDays: terms,
	}
	if ledger, err := strconv.ParseInt(strings.TrimSpace(raw.Rekening), 10, 64); err == nil {
		m.LedgerID = ledger
	}

	for _, regel := range raw.Regels {
		amount, err := types.NewMoneyFromString(strings.Replace(regel.BedragInvoer, ",", ".", 1))
		if err != nil {
			return nil, apperror.NewData("unparseable line amount").
				WithDetail("mutation_id", raw.MutatieNr).
				WithDetail("amount", regel.BedragInvoer)
		}
		line := Line{
			Amount:      amount,
			VATCode:     regel.BTWCode,
			Description: regel.Omschrijving,
		}
		if ledger, err := strconv.ParseInt(strings.TrimSpace(regel.TegenrekeningCode), 10, 64); err == nil {
			line.LedgerID = ledger
		}
		m.Lines = append(m.Lines, line)
	}
	return m, nil
}

func parseSOAPDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// call posts one envelope and decodes the named result element into out.
func (c *SOAPClient) call(ctx context.Context, action, body, resultElem string, out any) error {
	envelope := fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>%s</soap:Body></soap:Envelope>`,
		body,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(envelope))
	if err != nil {
		return apperror.NewInternal(err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://www.e-boekhouden.nl/soap/"+action)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.NewTransport(err)
	}
	if resp.StatusCode >= 500 {
		return apperror.NewTransport(fmt.Errorf("%s: status %d", action, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		if fault := decodeFault(raw); fault != nil {
			return apperror.NewData(fault.String).WithDetail("fault_code", fault.Code)
		}
		return apperror.NewData(fmt.Sprintf("%s: unexpected status %d", action, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := decodeResult(raw, resultElem, out); err != nil {
		return apperror.NewData("malformed SOAP response").WithCause(err)
	}
	return nil
}

// decodeResult walks the envelope until the named result element and decodes
// it into out. Namespace prefixes vary between the live service and fixtures,
// so matching is by local name.
func decodeResult(raw []byte, elem string, out any) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return fmt.Errorf("result element %s not found", elem)
		}
		if err != nil {
			return err
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == elem {
			return dec.DecodeElement(out, &start)
		}
	}
}

func decodeFault(raw []byte) *soapFault {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "Fault" {
			var fault soapFault
			if dec.DecodeElement(&fault, &start) == nil {
				return &fault
			}
			return nil
		}
	}
}

func (c *SOAPClient) requireSession() error {
	if c.sessionID == "" {
		return apperror.NewAuth("no open session")
	}
	return nil
}

func classifyTransportErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.NewTransport(err).WithDetail("timeout", true)
	}
	return apperror.NewTransport(err)
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
