package eboekhouden

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/types"
)

func soapEnvelope(inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		inner + `</soap:Body></soap:Envelope>`
}

func soapAction(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("SOAPAction"), "http://www.e-boekhouden.nl/soap/")
}

// soapServer answers OpenSession and CloseSession and delegates everything
// else to handle.
func soapServer(t *testing.T, handle func(w http.ResponseWriter, action string, body string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		action := soapAction(r)
		switch action {
		case "OpenSession":
			fmt.Fprint(w, soapEnvelope(`<OpenSessionResponse><OpenSessionResult><ErrorMsg><LastErrorCode></LastErrorCode></ErrorMsg><SessionID>{D5CF41A1}</SessionID></OpenSessionResult></OpenSessionResponse>`))
		case "CloseSession":
			fmt.Fprint(w, soapEnvelope(`<CloseSessionResponse/>`))
		default:
			handle(w, action, string(raw))
		}
	}))
}

func newSOAPClient(t *testing.T, url string) *SOAPClient {
	t.Helper()
	return NewSOAPClient(SOAPConfig{
		URL:           url,
		Username:      "user@example.org",
		SecurityCode1: "sec1",
		SecurityCode2: "sec2",
	})
}

func TestSOAPFetchMutations(t *testing.T) {
	srv := soapServer(t, func(w http.ResponseWriter, action, body string) {
		switch action {
		case "GetMutaties":
			if strings.Contains(body, "<MutatieNrVan>1</MutatieNrVan>") {
				fmt.Fprint(w, soapEnvelope(`<GetMutatiesResponse><GetMutatiesResult><ErrorMsg/><Mutaties>
					<cMutatieList>
						<MutatieNr>2</MutatieNr>
						<Soort>FactuurVerstuurd</Soort>
						<Datum>2024-03-10T00:00:00</Datum>
						<Rekening>1300</Rekening>
						<RelatieCode> REL001 </RelatieCode>
						<Factuurnummer>F-001 </Factuurnummer>
						<Omschrijving>Contributie 2024</Omschrijving>
						<Betalingstermijn>30</Betalingstermijn>
						<MutatieRegels><cMutatieListRegel>
							<BedragInvoer>-152,50</BedragInvoer>
							<BTWCode>GEEN</BTWCode>
							<TegenrekeningCode>8000</TegenrekeningCode>
							<Omschrijving>Contributie</Omschrijving>
						</cMutatieListRegel></MutatieRegels>
					</cMutatieList>
					<cMutatieList>
						<MutatieNr>1</MutatieNr>
						<Soort>GeldOntvangen</Soort>
						<Datum>2024-03-01</Datum>
						<Rekening>1000</Rekening>
						<Betalingstermijn>n.v.t.</Betalingstermijn>
						<MutatieRegels><cMutatieListRegel>
							<BedragInvoer>10,00</BedragInvoer>
							<TegenrekeningCode>8000</TegenrekeningCode>
						</cMutatieListRegel></MutatieRegels>
					</cMutatieList>
				</Mutaties></GetMutatiesResult></GetMutatiesResponse>`))
				return
			}
			fmt.Fprint(w, soapEnvelope(`<GetMutatiesResponse><GetMutatiesResult><ErrorMsg/><Mutaties/></GetMutatiesResult></GetMutatiesResponse>`))
		default:
			t.Errorf("unexpected action %s", action)
		}
	})
	defer srv.Close()

	c := newSOAPClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))
	defer c.Close(ctx)

	seq, err := c.FetchMutations(ctx, Window{FromID: 1})
	require.NoError(t, err)

	// The page arrives out of order; the sequence yields ascending ids.
	first, err := seq.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, KindMoneyReceived, first.Kind)
	assert.True(t, first.Lines[0].Amount.Equal(types.MustMoney("10.00")))
	// Junk payment terms normalize to zero.
	assert.Zero(t, first.PaymentTermDays)

	second, err := seq.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, KindSalesInvoice, second.Kind)
	assert.Equal(t, "F-001", second.InvoiceNumber)
	assert.Equal(t, "REL001", second.RelationCode)
	assert.Equal(t, int64(1300), second.LedgerID)
	assert.Equal(t, 30, second.PaymentTermDays)
	require.Len(t, second.Lines, 1)
	assert.True(t, second.Lines[0].Amount.Equal(types.MustMoney("-152.50")))
	assert.Equal(t, "GEEN", second.Lines[0].VATCode)
	assert.Equal(t, int64(8000), second.Lines[0].LedgerID)
	assert.Equal(t, "2024-03-10", second.Date.Format("2006-01-02"))

	done, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestSOAPFetchMutationsPaging(t *testing.T) {
	var pages atomic.Int32
	srv := soapServer(t, func(w http.ResponseWriter, action, body string) {
		pages.Add(1)
		var b strings.Builder
		b.WriteString(`<GetMutatiesResponse><GetMutatiesResult><ErrorMsg/><Mutaties>`)
		if strings.Contains(body, "<MutatieNrVan>1</MutatieNrVan>") {
			// A full page forces a follow-up fetch from the next cursor.
			for i := 1; i <= soapPageSize; i++ {
				fmt.Fprintf(&b, `<cMutatieList><MutatieNr>%d</MutatieNr><Soort>GeldOntvangen</Soort><Datum>2024-01-01</Datum><MutatieRegels><cMutatieListRegel><BedragInvoer>1,00</BedragInvoer><TegenrekeningCode>8000</TegenrekeningCode></cMutatieListRegel></MutatieRegels></cMutatieList>`, i)
			}
		} else {
			require.Contains(t, body, fmt.Sprintf("<MutatieNrVan>%d</MutatieNrVan>", soapPageSize+1))
			fmt.Fprintf(&b, `<cMutatieList><MutatieNr>%d</MutatieNr><Soort>GeldOntvangen</Soort><Datum>2024-01-01</Datum><MutatieRegels><cMutatieListRegel><BedragInvoer>1,00</BedragInvoer><TegenrekeningCode>8000</TegenrekeningCode></cMutatieListRegel></MutatieRegels></cMutatieList>`, soapPageSize+1)
		}
		b.WriteString(`</Mutaties></GetMutatiesResult></GetMutatiesResponse>`)
		fmt.Fprint(w, soapEnvelope(b.String()))
	})
	defer srv.Close()

	c := newSOAPClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))
	defer c.Close(ctx)

	seq, err := c.FetchMutations(ctx, Window{FromID: 1})
	require.NoError(t, err)

	var count int
	var last int64
	for {
		m, err := seq.Next(ctx)
		require.NoError(t, err)
		if m == nil {
			break
		}
		assert.Greater(t, m.ID, last)
		last = m.ID
		count++
	}
	assert.Equal(t, soapPageSize+1, count)
	assert.Equal(t, int32(2), pages.Load())
}

func TestSOAPOpenSessionAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, soapEnvelope(`<OpenSessionResponse><OpenSessionResult><ErrorMsg><LastErrorCode>BHF001</LastErrorCode><LastErrorDescription>Invalid security code</LastErrorDescription></ErrorMsg></OpenSessionResult></OpenSessionResponse>`))
	}))
	defer srv.Close()

	c := newSOAPClient(t, srv.URL)
	err := c.OpenSession(context.Background())
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeAuth))
	assert.False(t, apperror.IsRetryable(err))
}

func TestSOAPRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := soapServer(t, func(w http.ResponseWriter, action, body string) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, soapEnvelope(`<GetMaxMutatieNrResponse><GetMaxMutatieNrResult><ErrorMsg/><MutatieNr>4217</MutatieNr></GetMaxMutatieNrResult></GetMaxMutatieNrResponse>`))
	})
	defer srv.Close()

	c := NewSOAPClient(SOAPConfig{URL: srv.URL, RetryCeiling: 3})
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	highest, err := c.FetchHighestMutationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4217), highest)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSOAPFaultNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := soapServer(t, func(w http.ResponseWriter, action, body string) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, soapEnvelope(`<soap:Fault><faultcode>soap:Client</faultcode><faultstring>malformed filter</faultstring></soap:Fault>`))
	})
	defer srv.Close()

	c := NewSOAPClient(SOAPConfig{URL: srv.URL, RetryCeiling: 3})
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	_, err := c.FetchHighestMutationID(ctx)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeData))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSOAPFetchRelation(t *testing.T) {
	srv := soapServer(t, func(w http.ResponseWriter, action, body string) {
		fmt.Fprint(w, soapEnvelope(`<GetRelatiesResponse><GetRelatiesResult><ErrorMsg/><Relaties><cRelatie><Code>REL001</Code><Bedrijf>Vereniging Noord</Bedrijf><BP>B</BP></cRelatie></Relaties></GetRelatiesResult></GetRelatiesResponse>`))
	})
	defer srv.Close()

	c := newSOAPClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	info, err := c.FetchRelation(ctx, "REL001")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Vereniging Noord", info.Name)

	absent, err := c.FetchRelation(ctx, "REL404")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestSOAPFetchLedger(t *testing.T) {
	srv := soapServer(t, func(w http.ResponseWriter, action, body string) {
		assert.Equal(t, "GetGrootboekrekeningen", action)
		assert.Contains(t, body, "<Code>1000</Code>")
		fmt.Fprint(w, soapEnvelope(`<GetGrootboekrekeningenResponse><GetGrootboekrekeningenResult><ErrorMsg/><Rekeningen><cGrootboek><Code>1000</Code><Omschrijving>Rabobank lopende rekening</Omschrijving><Categorie>BAL</Categorie></cGrootboek></Rekeningen></GetGrootboekrekeningenResult></GetGrootboekrekeningenResponse>`))
	})
	defer srv.Close()

	c := newSOAPClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	info, err := c.FetchLedger(ctx, 1000)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(1000), info.Code)
	assert.Equal(t, "Rabobank lopende rekening", info.Name)
}

func TestSOAPRequiresSession(t *testing.T) {
	c := NewSOAPClient(SOAPConfig{URL: "http://127.0.0.1:1"})
	_, err := c.FetchMutations(context.Background(), Window{})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeAuth))
}
