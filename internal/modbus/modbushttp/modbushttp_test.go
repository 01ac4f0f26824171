package modbushttp

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	err  error
	seen []byte
}

func (e *echo) Send(adu []byte) ([]byte, error) {
	e.seen = append([]byte(nil), adu...)
	if e.err != nil {
		return nil, e.err
	}
	return append([]byte{0xAA}, adu...), nil
}

func TestRoundTrip(t *testing.T) {
	bus := &echo{}
	srv := httptest.NewServer(&Handler{Transporter: bus, Password: "hunter2"})
	defer srv.Close()

	c := NewClient(srv.URL, "hunter2")
	resp, err := c.Send([]byte{1, 3, 0, 0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 1, 3, 0, 0, 0, 1}, resp)
	assert.Equal(t, []byte{1, 3, 0, 0, 0, 1}, bus.seen)
}

func TestBusErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(&Handler{Transporter: &echo{err: errors.New("timeout")}})
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Send([]byte{1})
	require.Error(t, err)
	assert.Equal(t, "timeout", err.Error())
}

func TestWrongPassword(t *testing.T) {
	h := &Handler{Transporter: &echo{}, Password: "hunter2"}
	req := httptest.NewRequest(http.MethodPost, "/api/send", bytes.NewReader([]byte{1}))
	req.SetBasicAuth("modbus", "guess")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
