package eboekhouden

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/types"
)

// restServer answers the session exchange and delegates everything else.
func restServer(t *testing.T, handle http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/session" {
			var req restSessionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "token-abc", req.AccessToken)
			json.NewEncoder(w).Encode(restSessionResponse{Token: "session-xyz"})
			return
		}
		assert.Equal(t, "Bearer session-xyz", r.Header.Get("Authorization"))
		handle(w, r)
	}))
}

func newRESTClient(url string) *RESTClient {
	return NewRESTClient(RESTConfig{BaseURL: url, AccessToken: "token-abc"})
}

func TestRESTFetchMutations(t *testing.T) {
	srv := restServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/mutation", r.URL.Path)
		q := r.URL.Query()
		if q.Get("offset") != "0" {
			fmt.Fprint(w, `{"items":[],"count":0}`)
			return
		}
		assert.Equal(t, "2024-01-01", q.Get("from"))
		assert.Equal(t, "id", q.Get("sort"))
		fmt.Fprint(w, `{"items":[
			{"id":12,"type":"2","date":"2024-03-10T00:00:00Z","invoiceNumber":"F-001","relationId":31,"ledgerId":1300,"termOfPayment":30,
			 "rows":[{"amount":-152.50,"ledgerId":8000,"vatCode":"GEEN","description":"Contributie"}]},
			{"id":11,"type":"MoneyReceived","date":"2024-03-01","relationId":0,"ledgerId":1000,
			 "rows":[{"amount":10,"ledgerId":8000}]}
		],"count":2}`)
	})
	defer srv.Close()

	c := newRESTClient(srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))
	defer c.Close(ctx)

	seq, err := c.FetchMutations(ctx, Window{FromDate: mustDate("2024-01-01")})
	require.NoError(t, err)

	first, err := seq.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, int64(11), first.ID)
	assert.Equal(t, KindMoneyReceived, first.Kind)
	// relationId 0 means no relation.
	assert.Empty(t, first.RelationCode)
	assert.True(t, first.Lines[0].Amount.Equal(types.MustMoney("10")))

	second, err := seq.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, int64(12), second.ID)
	assert.Equal(t, KindSalesInvoice, second.Kind)
	assert.Equal(t, "F-001", second.InvoiceNumber)
	assert.Equal(t, "31", second.RelationCode)
	assert.Equal(t, 30, second.PaymentTermDays)
	require.Len(t, second.Lines, 1)
	assert.True(t, second.Lines[0].Amount.Equal(types.MustMoney("-152.50")))
	assert.Equal(t, "2024-03-10", second.Date.Format("2006-01-02"))

	done, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestRESTFetchMutationsPaging(t *testing.T) {
	var pages atomic.Int32
	srv := restServer(t, func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		offset := r.URL.Query().Get("offset")
		var items []string
		if offset == "0" {
			for i := 1; i <= restPageSize; i++ {
				items = append(items, fmt.Sprintf(`{"id":%d,"type":"5","date":"2024-01-01","rows":[{"amount":1,"ledgerId":8000}]}`, i))
			}
		} else {
			require.Equal(t, "500", offset)
			items = append(items, fmt.Sprintf(`{"id":%d,"type":"5","date":"2024-01-01","rows":[{"amount":1,"ledgerId":8000}]}`, restPageSize+1))
		}
		fmt.Fprintf(w, `{"items":[%s],"count":%d}`, strings.Join(items, ","), len(items))
	})
	defer srv.Close()

	c := newRESTClient(srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	seq, err := c.FetchMutations(ctx, Window{})
	require.NoError(t, err)

	var count int
	for {
		m, err := seq.Next(ctx)
		require.NoError(t, err)
		if m == nil {
			break
		}
		count++
	}
	assert.Equal(t, restPageSize+1, count)
	assert.Equal(t, int32(2), pages.Load())
}

func TestRESTFetchHighestMutationID(t *testing.T) {
	srv := restServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-id", r.URL.Query().Get("sort"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"items":[{"id":4217,"type":"5","date":"2024-01-01"}],"count":1}`)
	})
	defer srv.Close()

	c := newRESTClient(srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	highest, err := c.FetchHighestMutationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4217), highest)
}

func TestRESTRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := restServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"items":[],"count":0}`)
	})
	defer srv.Close()

	c := NewRESTClient(RESTConfig{BaseURL: srv.URL, AccessToken: "token-abc", RetryCeiling: 3})
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	_, err := c.FetchHighestMutationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRESTAuthErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := restServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"session expired","code":"AUTH001"}`)
	})
	defer srv.Close()

	c := NewRESTClient(RESTConfig{BaseURL: srv.URL, AccessToken: "token-abc", RetryCeiling: 3})
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	_, err := c.FetchHighestMutationID(ctx)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeAuth))
	assert.Contains(t, err.Error(), "session expired")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRESTFetchRelation(t *testing.T) {
	srv := restServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/relation", r.URL.Path)
		assert.Equal(t, "REL001", r.URL.Query().Get("code"))
		fmt.Fprint(w, `{"items":[{"id":31,"code":"REL001","name":"Vereniging Noord","type":"customer"}]}`)
	})
	defer srv.Close()

	c := newRESTClient(srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	info, err := c.FetchRelation(ctx, "REL001")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Vereniging Noord", info.Name)
	assert.Equal(t, PartyCustomer, info.Kind)
}

func TestRESTFetchLedger(t *testing.T) {
	srv := restServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/ledger", r.URL.Path)
		assert.Equal(t, "8000", r.URL.Query().Get("code"))
		fmt.Fprint(w, `{"items":[{"id":12,"code":"8000","description":"Contributie leden","category":"VW"}]}`)
	})
	defer srv.Close()

	c := newRESTClient(srv.URL)
	ctx := context.Background()
	require.NoError(t, c.OpenSession(ctx))

	info, err := c.FetchLedger(ctx, 8000)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(8000), info.Code)
	assert.Equal(t, "Contributie leden", info.Name)
	assert.Equal(t, "VW", info.Category)
}

func TestRESTRequiresSession(t *testing.T) {
	c := NewRESTClient(RESTConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := c.FetchMutations(context.Background(), Window{})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeAuth))
}

func mustDate(s string) time.Time {
	t0, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t0
}
