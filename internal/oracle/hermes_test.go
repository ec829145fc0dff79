package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hermesHandler(t *testing.T, price string, expo int32, publishTime int64) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, LATEST_PRICE_PATH, r.URL.Path)
		assert.Equal(t, testFeedID, r.URL.Query().Get("ids[]"))

		fmt.Fprintf(w, `{"parsed":[{"id":%q,"price":{"price":%q,"conf":"12345","expo":%d,"publish_time":%d}}]}`,
			testFeedID, price, expo, publishTime)
	}
}

func TestNewHermesSourceValidation(t *testing.T) {
	_, err := NewHermesSource("")
	assert.Error(t, err)

	source, err := NewHermesSource("https://hermes.pyth.network/")
	require.NoError(t, err)
	assert.Equal(t, "https://hermes.pyth.network", source.baseURL)
}

func TestHermesCurrentPrice(t *testing.T) {
	publishTime := time.Now().Unix()
	server := httptest.NewServer(hermesHandler(t, "14355000000", -8, publishTime))
	defer server.Close()

	source, err := NewHermesSource(server.URL)
	require.NoError(t, err)

	reading, err := source.CurrentPrice(context.Background(), testFeedID)
	require.NoError(t, err)
	assert.Equal(t, testFeedID, reading.FeedID)
	assert.Equal(t, int64(14355000000), reading.Price)
	assert.Equal(t, publishTime, reading.ObservedAt.Unix())
}

func TestHermesRejectsWrongExponent(t *testing.T) {
	server := httptest.NewServer(hermesHandler(t, "14355000000", -6, time.Now().Unix()))
	defer server.Close()

	source, err := NewHermesSource(server.URL)
	require.NoError(t, err)

	_, err = source.CurrentPrice(context.Background(), testFeedID)
	assert.ErrorContains(t, err, "exponent")
}

func TestHermesFeedNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	source, err := NewHermesSource(server.URL)
	require.NoError(t, err)

	_, err = source.CurrentPrice(context.Background(), testFeedID)
	assert.ErrorIs(t, err, ErrFeedNotFound)
}

func TestHermesEmptyParsedList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"parsed":[]}`)
	}))
	defer server.Close()

	source, err := NewHermesSource(server.URL)
	require.NoError(t, err)

	_, err = source.CurrentPrice(context.Background(), testFeedID)
	assert.ErrorIs(t, err, ErrFeedNotFound)
}

func TestHermesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	source, err := NewHermesSource(server.URL)
	require.NoError(t, err)

	_, err = source.CurrentPrice(context.Background(), testFeedID)
	assert.ErrorContains(t, err, "status 500")
}
