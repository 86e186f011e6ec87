package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	conn        atomic.Pointer[httpConnection] // nil before Connect and after Close
	counter     atomic.Uint32
	retryCount  int
	failureMode common.FailureMode
	user        string
	password    string
}

// httpConnection is replaced as a whole so that Close can run concurrently with Send
type httpConnection struct {
	client     *http.Client
	serverURLs []*url.URL
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(server)
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	failureMode := config.FailureMode
	if failureMode == "" {
		failureMode = common.FailureModeRedistribute
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: max(10, config.ConnectionsPerEndpoint),
			IdleConnTimeout:     90 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
		},
	}
	t.retryCount = max(1, config.RetryCount)
	t.failureMode = failureMode
	t.user = config.User
	t.password = config.Password
	t.conn.Store(&httpConnection{client: client, serverURLs: parsedURLs})
	return nil
}

func (t *httpClientTransport) Send(shardId uint64, req []byte) (resp []byte, err error) {
	conn := t.conn.Load()
	if conn == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	// Select the first server via round-robin
	idx := int(t.counter.Add(1) % uint32(len(conn.serverURLs)))

	attempts := t.retryCount
	if t.failureMode == common.FailureModeCancel {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 && t.failureMode == common.FailureModeRedistribute {
			idx = (idx + 1) % len(conn.serverURLs)
		}
		resp, err = t.send(conn.client, conn.serverURLs[idx], shardId, req)
		if err == nil {
			return resp, nil
		}
		Logger.Debugf("request to %s failed (attempt %d/%d): %v", conn.serverURLs[idx].Host, i+1, attempts, err)
	}
	return nil, err
}

// Close is safe to call concurrently with Send, requests already in flight complete
// on the old connection.
func (t *httpClientTransport) Close() error {
	if conn := t.conn.Swap(nil); conn != nil {
		conn.client.CloseIdleConnections()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// send performs a single request against one server
func (t *httpClientTransport) send(client *http.Client, serverURL *url.URL, shardId uint64, req []byte) ([]byte, error) {
	requestURL := fmt.Sprintf("%s/%d", strings.TrimSuffix(serverURL.String(), "/"), shardId)
	httpRequest, err := http.NewRequest(http.MethodPost, requestURL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/octet-stream")
	if t.user != "" {
		httpRequest.SetBasicAuth(t.user, t.password)
	}

	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", httpResponse.Status)
	}
	return io.ReadAll(httpResponse.Body)
}
