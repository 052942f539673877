package dataplane

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/penguintechinc/marchproxy-control/pkg/breaker"
	"github.com/penguintechinc/marchproxy-control/pkg/configdist"
	"github.com/penguintechinc/marchproxy-control/pkg/mtls"
	"github.com/penguintechinc/marchproxy-control/pkg/proxyclient"
	"github.com/penguintechinc/marchproxy-control/pkg/serviceauth"
)

// Agent is the data-plane runtime for a single proxy process: it keeps a
// proxyclient.Client registered and heartbeating against the control plane,
// and rebuilds its forwarding rules whenever a new config snapshot arrives.
type Agent struct {
	cfg    *Config
	client *proxyclient.Client
	authn  *serviceauth.Authenticator
	log    zerolog.Logger

	mu         sync.Mutex
	listeners  map[int64]net.Listener     // keyed by mapping ID
	breakers   map[int64]*breaker.Breaker // keyed by destination service ID
	validators map[int64]*mtls.Validator  // keyed by destination service ID, TLS-enabled services only
	services   map[int64]configdist.RenderedService
}

// New creates an Agent. authn is shared across every forwarded connection;
// constructing it once avoids generating a fresh MAC normalization key per
// mapping reload.
func New(cfg *Config, client *proxyclient.Client, authn *serviceauth.Authenticator, log zerolog.Logger) *Agent {
	return &Agent{
		cfg:       cfg,
		client:    client,
		authn:     authn,
		log:        log,
		listeners:  make(map[int64]net.Listener),
		breakers:   make(map[int64]*breaker.Breaker),
		validators: make(map[int64]*mtls.Validator),
	}
}

// Run registers with the control plane, starts the heartbeat and config poll
// loops, and blocks until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	_, err := a.client.Register(ctx, proxyclient.RegisterRequest{
		Name:    a.cfg.ProxyName,
		Version: a.cfg.Version,
	})
	if err != nil {
		return fmt.Errorf("registering with control plane: %w", err)
	}

	snap, err := a.client.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("fetching initial config: %w", err)
	}
	a.applySnapshot(snap)

	heartbeatInterval := time.Duration(a.cfg.HeartbeatIntervalSeconds) * time.Second
	go a.client.RunHeartbeatLoop(ctx, heartbeatInterval, func() proxyclient.HeartbeatRequest {
		return proxyclient.HeartbeatRequest{Version: a.cfg.Version}
	})

	maxWait := time.Duration(a.cfg.PollMaxWaitSeconds) * time.Second
	go a.client.RunConfigPollLoop(ctx, maxWait, a.applySnapshot)

	<-ctx.Done()
	a.closeAllListeners()
	return nil
}

// applySnapshot rebuilds breakers and listeners for the newly rendered
// config. Mappings that disappeared from the snapshot have their listener
// torn down; new mappings get a fresh listener. A mapping whose ID already
// has a listener keeps it, along with the mapping it was started with, so
// changes to an existing mapping are not applied.
func (a *Agent) applySnapshot(snap proxyclient.ConfigSnapshot) {
	services, err := decodeAll[configdist.RenderedService](snap.Services)
	if err != nil {
		a.log.Error().Err(err).Msg("decoding services from snapshot")
		return
	}
	mappings, err := decodeAll[configdist.RenderedMapping](snap.Mappings)
	if err != nil {
		a.log.Error().Err(err).Msg("decoding mappings from snapshot")
		return
	}
	certs, err := decodeAll[configdist.RenderedCertificate](snap.Certificates)
	if err != nil {
		a.log.Error().Err(err).Msg("decoding certificates from snapshot")
		return
	}
	certsByName := make(map[string]configdist.RenderedCertificate, len(certs))
	for _, c := range certs {
		certsByName[c.Name] = c
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.services = make(map[int64]configdist.RenderedService, len(services))
	for _, s := range services {
		a.services[s.ID] = s
		if _, ok := a.breakers[s.ID]; !ok {
			a.breakers[s.ID] = breaker.New(s.Name, breaker.Config{})
		}
		if s.TLSEnabled {
			a.refreshValidator(s, certsByName[s.Name])
		} else {
			delete(a.validators, s.ID)
		}
	}

	wanted := make(map[int64]configdist.RenderedMapping, len(mappings))
	for _, m := range mappings {
		wanted[m.ID] = m
	}

	for id, ln := range a.listeners {
		if _, ok := wanted[id]; !ok {
			ln.Close()
			delete(a.listeners, id)
			a.log.Info().Int64("mapping_id", id).Msg("stopped listener for removed mapping")
		}
	}

	for id, m := range wanted {
		if _, ok := a.listeners[id]; ok {
			continue
		}
		a.startListener(m)
	}

	a.log.Info().Str("version", snap.Version).Int("services", len(services)).Int("mappings", len(mappings)).Msg("applied config snapshot")
}

// refreshValidator builds or replaces the mTLS Validator guarding dials to
// svc. cert is matched to svc by name convention: the snapshot carries no
// explicit service-to-certificate link, so the CA certificate's Name is
// expected to equal the service's Name. A missing or unparsable cert leaves
// the destination with an empty root pool, which fails every dial closed.
func (a *Agent) refreshValidator(svc configdist.RenderedService, cert configdist.RenderedCertificate) {
	pool := x509.NewCertPool()
	if cert.PEM != "" {
		if !pool.AppendCertsFromPEM([]byte(cert.PEM)) {
			a.log.Warn().Str("service", svc.Name).Str("certificate", cert.Name).Msg("failed to parse CA certificate for service, dials will fail closed")
		}
	} else {
		a.log.Warn().Str("service", svc.Name).Msg("no matching CA certificate in snapshot, dials will fail closed")
	}

	tlsCfg := &tls.Config{
		RootCAs:    pool,
		ServerName: svc.Host,
		MinVersion: tls.VersionTLS12,
	}

	if v, ok := a.validators[svc.ID]; ok {
		v.Reload(tlsCfg)
		return
	}
	a.validators[svc.ID] = mtls.New(mtls.Policy{}, tlsCfg)
}

// startListener opens one TCP listener per bare port named in m.Ports. Range
// expressions ("9000-9128") are logged and skipped — fanning a single
// mapping out across a full port range is not implemented by this agent.
func (a *Agent) startListener(m configdist.RenderedMapping) {
	if len(m.Destinations) == 0 {
		a.log.Warn().Int64("mapping_id", m.ID).Msg("mapping has no destinations, skipping")
		return
	}

	for _, p := range m.Ports {
		port, err := strconv.Atoi(p)
		if err != nil {
			a.log.Warn().Str("port", p).Int64("mapping_id", m.ID).Msg("skipping port range, only bare ports are forwarded")
			continue
		}

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			a.log.Error().Err(err).Int("port", port).Msg("failed to listen for mapping")
			continue
		}
		a.listeners[m.ID] = ln
		go a.acceptLoop(ln, m)
		a.log.Info().Int64("mapping_id", m.ID).Int("port", port).Msg("listening for mapping")
	}
}

func (a *Agent) acceptLoop(ln net.Listener, m configdist.RenderedMapping) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go a.handleConn(conn, m)
	}
}

// handleConn authenticates (if required), selects a destination, and
// forwards bytes bidirectionally through the destination's circuit breaker.
func (a *Agent) handleConn(conn net.Conn, m configdist.RenderedMapping) {
	defer conn.Close()

	dest := m.Destinations[0]

	a.mu.Lock()
	svc, ok := a.services[dest.ID]
	br := a.breakers[dest.ID]
	validator := a.validators[dest.ID]
	a.mu.Unlock()
	if !ok {
		a.log.Error().Int64("service_id", dest.ID).Msg("destination service not found in snapshot")
		return
	}

	reader := bufio.NewReader(conn)
	if m.AuthRequired {
		token, err := reader.ReadString('\n')
		if err != nil {
			a.log.Warn().Err(err).Msg("reading auth token")
			return
		}
		presented := strings.TrimRight(token, "\r\n")
		tokenKey := svc.TokenValue
		if serviceauth.AuthType(svc.AuthType) == serviceauth.AuthSignedToken {
			tokenKey = svc.SignedTokenSecret
		}
		if err := a.authn.Authenticate(serviceauth.Service{
			ID:         svc.ID,
			Name:       svc.Name,
			AuthType:   serviceauth.AuthType(svc.AuthType),
			TokenValue: tokenKey,
		}, presented); err != nil {
			a.log.Warn().Err(err).Int64("service_id", svc.ID).Msg("connection rejected by authenticator")
			return
		}
	}

	addr := net.JoinHostPort(dest.Host, strconv.Itoa(dest.Port))
	result, err := br.Execute(func() (any, error) {
		if !svc.TLSEnabled {
			c, dialErr := net.DialTimeout("tcp", addr, 5*time.Second)
			return c, dialErr
		}
		dialer := &net.Dialer{Timeout: 5 * time.Second}
		tc, dialErr := tls.DialWithDialer(dialer, "tcp", addr, validator.TLSConfig())
		if dialErr != nil {
			return nil, dialErr
		}
		if svc.TLSVerify {
			if verifyErr := validator.ValidatePeer(tc.ConnectionState().PeerCertificates); verifyErr != nil {
				tc.Close()
				return nil, verifyErr
			}
		}
		return tc, nil
	})
	if err != nil {
		a.log.Warn().Err(err).Str("addr", addr).Msg("dial rejected or failed")
		return
	}
	backend := result.(net.Conn)
	defer backend.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(backend, reader)
	}()
	go func() {
		defer wg.Done()
		io.Copy(conn, backend)
	}()
	wg.Wait()
}

func (a *Agent) closeAllListeners() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, ln := range a.listeners {
		ln.Close()
		delete(a.listeners, id)
	}
}

func decodeAll[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
