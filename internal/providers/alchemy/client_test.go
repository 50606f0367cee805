package alchemy_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titanx-dash/holder-api/internal/domain"
	"github.com/titanx-dash/holder-api/internal/logger"
	"github.com/titanx-dash/holder-api/internal/providers/alchemy"
	"github.com/titanx-dash/holder-api/internal/retry"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeHTTP answers GetJSON from a queue of canned JSON pages keyed by the
// pageKey query parameter.
type fakeHTTP struct {
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeHTTP) GetJSON(_ context.Context, rawURL string, result interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	key := u.Query().Get("pageKey")
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return err
	}
	body, ok := f.pages[key]
	if !ok {
		return fmt.Errorf("unexpected page key %q", key)
	}
	return json.Unmarshal([]byte(body), result)
}

func newClient(http *fakeHTTP) *alchemy.Client {
	return alchemy.NewClient(alchemy.Config{
		BaseURL:   "https://example.test",
		APIKey:    "key",
		RetryOpts: retry.Options{Retries: 2, Delay: time.Millisecond},
	}, http)
}

func TestFetchOwners_FollowsPagination(t *testing.T) {
	http := &fakeHTTP{pages: map[string]string{
		"": `{"ownerAddresses":[
			{"ownerAddress":"0xAAA1000000000000000000000000000000000001",
			 "tokenBalances":[{"tokenId":"0x1","balance":1},{"tokenId":"0x2","balance":1}]}
		],"pageKey":"next"}`,
		"next": `{"ownerAddresses":[
			{"ownerAddress":"0xbbb1000000000000000000000000000000000001",
			 "tokenBalances":[{"tokenId":"3","balance":2}]}
		]}`,
	}}

	owners, err := newClient(http).FetchOwners(context.Background(), "0xcontract")
	require.NoError(t, err)
	require.Len(t, owners, 2)

	// Addresses come back lowercased, hex and decimal token ids both parse.
	assert.Equal(t, "0xaaa1000000000000000000000000000000000001", owners[0].OwnerAddress)
	assert.Equal(t, []uint64{1, 2}, owners[0].LiveTokens())
	assert.Equal(t, []uint64{3}, owners[1].LiveTokens())

	assert.Equal(t, []string{"", "next"}, http.calls)
}

func TestFetchOwners_FiltersDegenerateEntries(t *testing.T) {
	http := &fakeHTTP{pages: map[string]string{
		"": `{"ownerAddresses":[
			{"ownerAddress":"","tokenBalances":[{"tokenId":"1","balance":1}]},
			{"ownerAddress":"0xaaa1000000000000000000000000000000000001",
			 "tokenBalances":[{"tokenId":"1","balance":0}]},
			{"ownerAddress":"0xbbb1000000000000000000000000000000000001",
			 "tokenBalances":[{"tokenId":"7","balance":1},{"tokenId":"8","balance":0}]}
		]}`,
	}}

	owners, err := newClient(http).FetchOwners(context.Background(), "0xcontract")
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "0xbbb1000000000000000000000000000000000001", owners[0].OwnerAddress)
	assert.Equal(t, []uint64{7}, owners[0].LiveTokens())
}

func TestFetchOwners_RejectsNonListShape(t *testing.T) {
	http := &fakeHTTP{pages: map[string]string{
		"": `{"ownerAddresses":{"oops":true}}`,
	}}

	_, err := newClient(http).FetchOwners(context.Background(), "0xcontract")
	require.ErrorIs(t, err, domain.ErrInvalidOwnersResponse)
}

func TestFetchOwners_RejectsMissingOwnerField(t *testing.T) {
	http := &fakeHTTP{pages: map[string]string{
		"": `{"pageKey":""}`,
	}}

	_, err := newClient(http).FetchOwners(context.Background(), "0xcontract")
	require.ErrorIs(t, err, domain.ErrInvalidOwnersResponse)
}

func TestFetchOwners_RetriesTransientFailures(t *testing.T) {
	failures := 0
	http := &fakeHTTP{
		pages: map[string]string{
			"": `{"ownerAddresses":[
				{"ownerAddress":"0xaaa1000000000000000000000000000000000001",
				 "tokenBalances":[{"tokenId":"1","balance":1}]}
			]}`,
		},
	}
	httpWrapped := &flakyHTTP{inner: http, failOnce: &failures}

	owners, err := alchemy.NewClient(alchemy.Config{
		BaseURL:   "https://example.test",
		APIKey:    "key",
		RetryOpts: retry.Options{Retries: 2, Delay: time.Millisecond},
	}, httpWrapped).FetchOwners(context.Background(), "0xcontract")

	require.NoError(t, err)
	assert.Len(t, owners, 1)
	assert.Equal(t, 1, failures)
}

// flakyHTTP fails the first call, then delegates to the inner fake.
type flakyHTTP struct {
	inner    *fakeHTTP
	failOnce *int
}

func (f *flakyHTTP) GetJSON(ctx context.Context, rawURL string, result interface{}) error {
	if *f.failOnce == 0 {
		*f.failOnce = 1
		return errors.New("connection refused")
	}
	return f.inner.GetJSON(ctx, rawURL, result)
}

func TestFetchOwners_RateLimitFailsFast(t *testing.T) {
	calls := 0
	http := &countingHTTP{err: fmt.Errorf("%w: status 429", domain.ErrRateLimited), calls: &calls}

	_, err := alchemy.NewClient(alchemy.Config{
		BaseURL:   "https://example.test",
		APIKey:    "key",
		RetryOpts: retry.Options{Retries: 5, Delay: time.Millisecond},
	}, http).FetchOwners(context.Background(), "0xcontract")

	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 1, calls)
}

type countingHTTP struct {
	err   error
	calls *int
}

func (c *countingHTTP) GetJSON(context.Context, string, interface{}) error {
	*c.calls++
	return c.err
}
