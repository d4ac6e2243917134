// SPDX-FileCopyrightText: 2024 The ofdgate authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ofdgate/ofdgate/pkg/cipher"
	"github.com/ofdgate/ofdgate/pkg/dispatch"
	"github.com/ofdgate/ofdgate/pkg/fiscal"
	"github.com/ofdgate/ofdgate/pkg/ofdp"
	"github.com/ofdgate/ofdgate/pkg/schema"
	"github.com/ofdgate/ofdgate/pkg/session"
	"github.com/ofdgate/ofdgate/pkg/validate"
)

// memStore is an in-memory Store for loopback tests.
type memStore struct {
	mu      sync.Mutex
	appends int
	docs    map[string]uint64
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]uint64)}
}

func (ms *memStore) Append(_ context.Context, rec *dispatch.Record) (uint64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.appends++

	key := fmt.Sprintf("%s-%d", rec.Doc.DriveNumber(), rec.Doc.DocNumber())
	if id, known := ms.docs[key]; known {
		return id, nil
	}

	id := uint64(len(ms.docs) + 1)
	ms.docs[key] = id
	return id, nil
}

func (ms *memStore) count() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.docs)
}

func testProcessor(t *testing.T, store dispatch.Store) *dispatch.Dispatcher {
	t.Helper()

	table, err := schema.Builtin(true)
	if err != nil {
		t.Fatal(err)
	}

	v := validate.NewValidator(table)
	v.MinDate = time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC)
	v.FutureWindow = 24 * time.Hour

	return dispatch.NewDispatcher(store, v, "7704358518")
}

func testContainer(t *testing.T, docNumber uint32, fields ...fiscal.Field) []byte {
	t.Helper()

	header := fiscal.ContainerHeader{DocType: fiscal.DocOpenShift, DocNumber: docNumber}
	copy(header.DriveNumber[:], "87100042")

	if fields == nil {
		fields = []fiscal.Field{
			{Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second))},
			{Tag: fiscal.TagShiftNumber, Value: fiscal.U32Value(1)},
			{Tag: fiscal.TagUserInn, Value: fiscal.StringValue("7704358518")},
			{Tag: fiscal.TagKktRegId, Value: fiscal.StringValue("0000000001053311")},
			{Tag: fiscal.TagFiscalDocumentNumber, Value: fiscal.U32Value(docNumber)},
		}
	}

	container, err := fiscal.PackContainer(header, fields)
	if err != nil {
		t.Fatal(err)
	}
	return container
}

func startServer(t *testing.T, store dispatch.Store, cfg session.Config) *Server {
	t.Helper()

	serv := NewServer("127.0.0.1:0", cfg, testProcessor(t, store))
	if err, _ := serv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(serv.Close)

	return serv
}

func TestGatewaySessionFlow(t *testing.T) {
	store := newMemStore()
	serv := startServer(t, store, session.DefaultConfig())

	client, conn, err := Dial(serv.LocalAddr(), ofdp.VersionFFD105, "87100042", "0000000001053311")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ack, err := client.Handshake(uint8(cipher.SuiteNone | cipher.SuiteAESGCM | cipher.SuiteChaCha20))
	if err != nil {
		t.Fatal(err)
	}
	if cipher.Suite(ack.Suite) != cipher.SuiteChaCha20 {
		t.Fatalf("negotiated suite is %v", cipher.Suite(ack.Suite))
	}

	answer, err := client.SendDocument(testContainer(t, 42))
	if err != nil {
		t.Fatal(err)
	}

	docAck, ok := answer.(*ofdp.DocAckMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocAckMessage", answer)
	}
	if docAck.Seq != 1 {
		t.Fatalf("answer echoes sequence %d instead of 1", docAck.Seq)
	}

	receipt, err := fiscal.ParseContainer(docAck.Receipt, "1.05")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Code != fiscal.DocOperatorAck {
		t.Fatalf("receipt document code is %v", receipt.Code)
	}

	// An invalid receipt document must come back negative and stay out of
	// the store.
	invalid := testContainer(t, 43, fiscal.Field{
		Tag: fiscal.TagDateTime, Value: fiscal.TimeValue(time.Now().UTC().Truncate(time.Second)),
	})

	answer, err = client.SendDocument(invalid)
	if err != nil {
		t.Fatal(err)
	}
	nack, ok := answer.(*ofdp.DocNackMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocNackMessage", answer)
	}
	if nack.Code != ofdp.NackValidation {
		t.Fatalf("nack code is %d", nack.Code)
	}

	if store.count() != 1 {
		t.Fatalf("store holds %d documents instead of 1", store.count())
	}

	if err := client.Terminate(ofdp.TerminationShiftClosed); err != nil {
		t.Fatal(err)
	}
}

func TestGatewayResend(t *testing.T) {
	store := newMemStore()
	serv := startServer(t, store, session.DefaultConfig())

	client, conn, err := Dial(serv.LocalAddr(), ofdp.VersionFFD105, "87100042", "0000000001053311")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := client.Handshake(uint8(cipher.SuiteAESGCM)); err != nil {
		t.Fatal(err)
	}

	container := testContainer(t, 42)

	first, err := client.SendDocument(container)
	if err != nil {
		t.Fatal(err)
	}
	second, err := client.Resend(1, container)
	if err != nil {
		t.Fatal(err)
	}

	firstAck, ok := first.(*ofdp.DocAckMessage)
	if !ok {
		t.Fatalf("first answer is a %T", first)
	}
	secondAck, ok := second.(*ofdp.DocAckMessage)
	if !ok {
		t.Fatalf("second answer is a %T", second)
	}
	if firstAck.DocId != secondAck.DocId {
		t.Fatalf("resend was acknowledged as document %d instead of %d", secondAck.DocId, firstAck.DocId)
	}

	// The machine replays the cached answer; the store sees one append.
	if store.appends != 1 {
		t.Fatalf("store saw %d appends instead of 1", store.appends)
	}
}

func TestGatewayCorruptFrameContinue(t *testing.T) {
	store := newMemStore()
	serv := startServer(t, store, session.DefaultConfig())

	client, conn, err := Dial(serv.LocalAddr(), ofdp.VersionFFD105, "87100042", "0000000001053311")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := client.Handshake(uint8(cipher.SuiteAESGCM)); err != nil {
		t.Fatal(err)
	}

	// A frame whose checksum does not match the wire bytes is rejected,
	// but the stream stays aligned and the session continues.
	var buff bytes.Buffer
	f := ofdp.NewFrame(ofdp.VersionFFD105, "87100042", ofdp.FlagEnciphered, []byte{0x01, 0x02, 0x03, 0x04})
	if err := f.Marshal(&buff); err != nil {
		t.Fatal(err)
	}
	raw := buff.Bytes()
	raw[len(raw)-1] ^= 0xFF

	if _, err := conn.Write(raw); err != nil {
		t.Fatal(err)
	}

	msg, err := client.receive()
	if err != nil {
		t.Fatal(err)
	}
	nack, ok := msg.(*ofdp.DocNackMessage)
	if !ok {
		t.Fatalf("answer is a %T instead of a DocNackMessage", msg)
	}
	if nack.Code != ofdp.NackFrameCorrupt {
		t.Fatalf("nack code is %d instead of %d", nack.Code, ofdp.NackFrameCorrupt)
	}

	answer, err := client.SendDocument(testContainer(t, 42))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := answer.(*ofdp.DocAckMessage); !ok {
		t.Fatalf("answer is a %T instead of a DocAckMessage", answer)
	}
	if store.count() != 1 {
		t.Fatalf("store holds %d documents instead of 1", store.count())
	}
}

func TestGatewayIdleExpiry(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.IdleTimeout = 250 * time.Millisecond

	store := newMemStore()
	serv := startServer(t, store, cfg)

	client, conn, err := Dial(serv.LocalAddr(), ofdp.VersionFFD105, "87100042", "0000000001053311")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := client.Handshake(uint8(cipher.SuiteChaCha20)); err != nil {
		t.Fatal(err)
	}

	// Stay silent; the gateway must ask for termination.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	msg, err := client.receive()
	if err != nil {
		t.Fatal(err)
	}

	term, ok := msg.(*ofdp.SessionTerminationMessage)
	if !ok {
		t.Fatalf("idle answer is a %T", msg)
	}
	if term.Code != ofdp.TerminationIdle {
		t.Fatalf("termination reason is %v", term.Code)
	}
}

// wsStream adapts a WebSocket connection to the Client's stream interface,
// one binary message per write.
type wsStream struct {
	conn *websocket.Conn
	buff bytes.Buffer
}

func (s *wsStream) Read(p []byte) (int, error) {
	for s.buff.Len() == 0 {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		s.buff.Write(data)
	}
	return s.buff.Read(p)
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func TestGatewayWebsocket(t *testing.T) {
	store := newMemStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &WebsocketServer{
		sessionCfg:  session.DefaultConfig(),
		processor:   testProcessor(t, store),
		maxFrameLen: ofdp.DefaultMaxFrameLen,
		ctx:         ctx,
		cancel:      cancel,
		upgrader:    websocket.Upgrader{},
		httpServer:  &http.Server{},
	}

	httpServer := httptest.NewServer(http.HandlerFunc(ws.exchangeHandler))
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	client, err := NewClient(&wsStream{conn: conn}, ofdp.VersionFFD105, "87100042", "0000000001053311")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Handshake(uint8(cipher.SuiteAESGCM)); err != nil {
		t.Fatal(err)
	}

	answer, err := client.SendDocument(testContainer(t, 42))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := answer.(*ofdp.DocAckMessage); !ok {
		t.Fatalf("answer is a %T instead of a DocAckMessage", answer)
	}
	if store.count() != 1 {
		t.Fatalf("store holds %d documents instead of 1", store.count())
	}
}

var _ io.ReadWriter = (*wsStream)(nil)
