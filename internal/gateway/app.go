// Package gateway wires every other package together into the running
// SIP/RTP gateway: the SIP poll/dispatch loop, per-call media bridging,
// the CLI command loop, and orderly shutdown.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arzzra/siprtpgw/internal/cdr"
	"github.com/arzzra/siprtpgw/internal/config"
	"github.com/arzzra/siprtpgw/internal/metrics"
	"github.com/arzzra/siprtpgw/pkg/audiosocket"
	"github.com/arzzra/siprtpgw/pkg/callregistry"
	"github.com/arzzra/siprtpgw/pkg/callstate"
	"github.com/arzzra/siprtpgw/pkg/media"
	"github.com/arzzra/siprtpgw/pkg/rtpworker"
	"github.com/arzzra/siprtpgw/pkg/sipmsg"
	"github.com/arzzra/siprtpgw/pkg/sipstack"
)

// sipPollTimeout matches spec.md §4.L's 10ms SIP poll deadline.
const sipPollTimeout = 10 * time.Millisecond

// callEntry is what the gateway, as opposed to the call-state package,
// knows about one call: its session, its media bridge, and the bits
// needed to emit a CDR line once it ends.
type callEntry struct {
	session   *callstate.Session
	bridge    *mediaBridge
	from      string
	to        string
	startTime time.Time
}

// App owns every process-wide collaborator and the SIP dispatch loop.
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Registry
	cdr     *cdr.Sink

	sipConn  *net.UDPConn
	txTable  *sipstack.Table
	registry *callregistry.Registry[*callEntry]
	rtpPool  *rtpworker.Pool

	mu       sync.Mutex
	stopping bool
}

// New binds the SIP socket and RTP worker pool and returns a ready-to-run
// App. A bind failure here is the one startup condition spec.md treats as
// fatal.
func New(cfg *config.Config, logger zerolog.Logger, metricsReg *metrics.Registry, cdrSink *cdr.Sink) (*App, error) {
	sipAddr := &net.UDPAddr{IP: net.ParseIP(cfg.BindIP), Port: cfg.SipPort}
	conn, err := net.ListenUDP("udp", sipAddr)
	if err != nil {
		return nil, fmt.Errorf("gateway: bind SIP socket: %w", err)
	}

	pool, err := rtpworker.NewPool(cfg.RtpWorkers, cfg.BindIP, cfg.RtpPortStart, cfg.RtpPortEnd)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("gateway: build RTP worker pool: %w", err)
	}

	app := &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metricsReg,
		cdr:      cdrSink,
		sipConn:  conn,
		txTable:  sipstack.NewTable(),
		registry: callregistry.New[*callEntry](),
		rtpPool:  pool,
	}

	pool.SetHandlers(app.handleRTP, app.handleRTCP)
	pool.Start()
	return app, nil
}

// Run executes the SIP poll/dispatch loop until ctx is cancelled, then
// terminates every active call before returning, per spec.md §4.L.
func (app *App) Run(ctx context.Context) error {
	buf := make([]byte, 2048)
	lastGC := time.Now()

	for {
		select {
		case <-ctx.Done():
			app.shutdown()
			return nil
		default:
		}

		app.sipConn.SetReadDeadline(time.Now().Add(sipPollTimeout))
		n, sender, err := app.sipConn.ReadFromUDP(buf)
		if err != nil {
			if !isTimeoutErr(err) {
				if app.stoppingNow() {
					app.shutdown()
					return nil
				}
				app.logger.Warn().Err(err).Msg("gateway: SIP socket read error")
			}
		} else {
			app.handleDatagram(append([]byte(nil), buf[:n]...), sender)
		}

		if time.Since(lastGC) >= app.cfg.TransactionGcInterval() {
			removed := app.txTable.Sweep(time.Now())
			if removed > 0 {
				app.logger.Debug().Int("removed", removed).Msg("gateway: swept expired transactions")
			}
			if app.metrics != nil {
				app.metrics.SipTransactionsActive.Set(float64(app.txTable.Len()))
			}
			lastGC = time.Now()
		}
	}
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (app *App) stoppingNow() bool {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.stopping
}

// Shutdown signals Run to stop on its next loop iteration by closing the
// SIP socket, which makes the next ReadFromUDP fail immediately.
func (app *App) Shutdown() {
	app.mu.Lock()
	app.stopping = true
	app.mu.Unlock()
	app.sipConn.Close()
}

func (app *App) shutdown() {
	app.logger.Info().Msg("gateway: shutting down, terminating active calls")
	for _, callID := range app.registry.CallIDs() {
		if entry, ok := app.registry.Get(callID); ok {
			entry.session.SetTerminationReason(callstate.ReasonLocalBye)
			entry.session.Terminate()
		}
	}
	app.rtpPool.Stop()
}

// handleDatagram implements spec.md §4.L/Appendix GatewayApp dispatch:
// stateless OPTIONS/REGISTER, transaction dedup/caching for everything
// else, and first-INVITE session creation.
func (app *App) handleDatagram(data []byte, sender *net.UDPAddr) {
	msg, err := sipmsg.Parse(data)
	if err != nil {
		app.logger.Warn().Err(err).Msg("gateway: dropping malformed SIP datagram")
		return
	}
	callID := msg.CallID()
	if callID == "" {
		app.logger.Warn().Msg("gateway: dropping SIP message with no Call-ID")
		return
	}

	if !msg.IsRequest {
		// This gateway never sends requests of its own in the common
		// path (only responses), so inbound responses have no handler.
		return
	}

	switch msg.Method {
	case sipmsg.OPTIONS:
		app.sendStateless(sipmsg.NewResponseFor(msg, 200, "OK"), sender)
		return
	case sipmsg.REGISTER:
		res := sipmsg.NewResponseFor(msg, 200, "OK")
		res.Headers.Set("Expires", "3600")
		app.sendStateless(res, sender)
		app.logger.Info().Str("from", msg.FromUser()).Msg("gateway: accepted REGISTER")
		return
	}

	if msg.Method == sipmsg.ACK {
		app.handleAck(msg, sender)
		return
	}

	if existing, ok := app.txTable.Lookup(msg); ok {
		if cached, has := existing.CachedResponse(); has {
			app.logger.Info().Str("call_id", callID).Msg("gateway: resending cached response for retransmission")
			app.sendStateless(cached, sender)
			return
		}
	}

	tx := app.txTable.Create(msg)
	entry, ok := app.registry.Get(callID)
	if !ok {
		if msg.Method != sipmsg.INVITE {
			app.sendStateless(sipmsg.NewResponseFor(msg, 481, "Call/Transaction Does Not Exist"), sender)
			return
		}
		app.createSession(msg, sender, tx)
		return
	}
	entry.session.Dispatch(msg, sender, tx)
}

func (app *App) handleAck(msg *sipmsg.Message, sender *net.UDPAddr) {
	callID := msg.CallID()
	if tx, ok := app.txTable.LookupInvite(callID, msg.TopViaBranch()); ok {
		_ = tx.ReceiveAck()
	}
	if entry, ok := app.registry.Get(callID); ok {
		entry.session.Dispatch(msg, sender, nil)
	}
}

// createSession builds a new call's Session and media bridge, dispatches
// its originating INVITE, and only then adds it to the registry —
// together with whatever RTP port the dispatch claimed — so invariant 1
// (a call is registered iff its port is) holds for rejected calls too: a
// call rejected before allocating a port has none, and one rejected after
// has already released it and is not registered.
func (app *App) createSession(msg *sipmsg.Message, sender *net.UDPAddr, tx *sipstack.Transaction) {
	callID := msg.CallID()
	app.logger.Info().Str("call_id", callID).Msg("gateway: new call")

	bridge := newMediaBridge(callID, app.rtpPool, app.logger, app.cfg.RecordingPath, app.cfg.RecordingMode, app.dialBackend)

	responseSender := func(resp *sipmsg.Message, dest *net.UDPAddr) error {
		if dest == nil {
			dest = sender
		}
		if err := app.sendRaw(resp, dest); err != nil {
			return err
		}
		return tx.SendResponse(resp)
	}

	limits := callstate.Limits{
		MaxCalls:        app.cfg.MaxCalls,
		CodecPreference: app.cfg.CodecPreference,
		BindIP:          effectiveAdvertiseIP(app.cfg.BindIP),
		SipPort:         app.cfg.SipPort,
	}

	session := callstate.NewSession(callID, responseSender, &poolPortAllocator{app.rtpPool}, bridge, limits, app.registry.Count, func(id string) {
		app.onCallTerminated(id)
	})

	session.Dispatch(msg, sender, tx)

	if port := session.LocalPort(); port != 0 && session.State() != (callstate.TerminatedState{}).Name() {
		entry := &callEntry{
			session:   session,
			bridge:    bridge,
			from:      msg.FromUser(),
			to:        msg.ToUser(),
			startTime: time.Now(),
		}
		app.registry.Insert(callID, entry, port)
		if app.metrics != nil {
			app.metrics.CallsActive.Set(float64(app.registry.Count()))
		}
	}
}

// onCallTerminated is the Session.onTerminate callback: it drops the call
// from the registry (its RTP port was already released by Session.Terminate
// via the PortAllocator) and appends its CDR line, classifying EndReason
// from whatever reason the terminating state handler recorded.
func (app *App) onCallTerminated(callID string) {
	entry, ok := app.registry.Get(callID)
	if !ok {
		return
	}
	app.registry.Remove(callID)
	if app.metrics != nil {
		app.metrics.CallsActive.Set(float64(app.registry.Count()))
		app.metrics.CallsTotal.WithLabelValues("ended").Inc()
	}
	app.cdr.Write(cdr.Record{
		CallID:    callID,
		From:      entry.from,
		To:        entry.to,
		StartTime: entry.startTime,
		EndTime:   time.Now(),
		EndReason: endReasonFor(entry.session.TerminationReason()),
	})
}

// endReasonFor maps a callstate termination reason string to the CDR
// sink's enum, defaulting to local-bye for any call torn down without one
// recorded (should not happen: every Terminate call site sets one first).
func endReasonFor(reason string) cdr.EndReason {
	switch reason {
	case callstate.ReasonRemoteBye:
		return cdr.EndRemoteBye
	case callstate.ReasonCancel:
		return cdr.EndCancel
	case callstate.ReasonFailed:
		return cdr.EndFailed
	case callstate.ReasonBackendDisconnect:
		return cdr.EndBackendDisconnect
	default:
		return cdr.EndLocalBye
	}
}

// dialBackend connects to the configured audio-socket backend for one
// call, returning the BackendStage that bridges it into the pipeline, or
// (nil, nil, nil) in echo mode.
func (app *App) dialBackend(callID string, payloadType int) (*media.BackendStage, *audiosocket.Client, error) {
	if app.cfg.Mode != "audiosocket" {
		return nil, nil, nil
	}
	backend := media.NewBackendStage(nil, payloadType)
	client, err := audiosocket.Dial(app.cfg.AudiosocketAddr, callID, "", "",
		audiosocket.WithAudioCallback(backend.PushFromBackend),
		audiosocket.WithDisconnectCallback(func() { app.onBackendDisconnect(callID) }),
	)
	if err != nil {
		return nil, nil, err
	}
	backend.SetSink(client)
	return backend, client, nil
}

// onBackendDisconnect implements spec.md §7's audio-socket-disconnect
// rule: an unexpected backend drop drives the call to hangup.
func (app *App) onBackendDisconnect(callID string) {
	entry, ok := app.registry.Get(callID)
	if !ok {
		return
	}
	app.logger.Warn().Str("call_id", callID).Msg("gateway: backend disconnected, hanging up call")
	entry.session.SetTerminationReason(callstate.ReasonBackendDisconnect)
	entry.session.Terminate()
}

func (app *App) sendStateless(resp *sipmsg.Message, dest *net.UDPAddr) {
	_ = app.sendRaw(resp, dest)
}

func (app *App) sendRaw(resp *sipmsg.Message, dest *net.UDPAddr) error {
	_, err := app.sipConn.WriteToUDP(resp.Serialize(), dest)
	return err
}

func (app *App) handleRTP(localPort int, payload []byte, sender *net.UDPAddr) {
	entry, ok := app.registry.GetByPort(localPort)
	if !ok {
		return
	}
	entry.bridge.handleRTP(payload, sender)
	if app.metrics != nil {
		app.metrics.RtpPacketsTotal.WithLabelValues("in").Inc()
	}
}

func (app *App) handleRTCP(localPort int, payload []byte, sender *net.UDPAddr) {
	// RTCP is received and discarded: spec.md carries no RTCP-driven
	// behavior (no adaptive jitter, no loss-based logic).
}

func effectiveAdvertiseIP(bindIP string) string {
	if bindIP == "" || bindIP == "0.0.0.0" {
		return "127.0.0.1"
	}
	return bindIP
}

// poolPortAllocator adapts *rtpworker.Pool to callstate.PortAllocator.
type poolPortAllocator struct {
	pool *rtpworker.Pool
}

func (p *poolPortAllocator) Allocate() (int, error) { return p.pool.Allocate() }
func (p *poolPortAllocator) Release(localPort int)  { p.pool.Release(localPort) }

// RunCLI implements spec.md §4.P's stdin command loop: `list`, `cut
// <callId>`, `exit`/`quit`. It returns when stdin closes or a line
// requests shutdown, at which point it calls Shutdown itself.
func (app *App) RunCLI(in *os.File) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "list":
			app.logger.Info().Int("active_calls", app.registry.Count()).Msg("gateway: cli list")
		case strings.HasPrefix(line, "cut "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "cut "))
			if entry, ok := app.registry.Get(id); ok {
				entry.session.SetTerminationReason(callstate.ReasonLocalBye)
				entry.session.Terminate()
				app.logger.Info().Str("call_id", id).Msg("gateway: cli cut call")
			}
		case line == "exit" || line == "quit":
			app.Shutdown()
			return
		}
	}
}
