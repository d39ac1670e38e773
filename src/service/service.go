package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mosaicnetworks/ursula/src/common"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/node"
	"github.com/mosaicnetworks/ursula/src/policy"
	"github.com/sirupsen/logrus"
)

// Service exposes the state of a node over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	router      chi.Router
	server      *http.Server
	logger      *logrus.Entry
}

// NewService creates a Service for the node. It does not listen until Serve is
// called.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      chi.NewRouter(),
		logger:      logger,
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:              bindAddress,
		Handler:           service.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Ursula API handlers")

	s.router.Use(middleware.Recoverer)
	s.router.Use(cors)

	s.router.Get("/stats", s.makeHandler(s.GetStats))
	s.router.Get("/nodes", s.makeHandler(s.GetNodes))
	s.router.Get("/suspicious", s.makeHandler(s.GetSuspicious))
	s.router.Get("/treasure/{id}", s.makeHandler(s.GetTreasureMap))
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		fn(w, r)
	}
}

// Handler returns the router of the service, to mount it in another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Ursula API")

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error(err)
	}
}

// Shutdown stops the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// GetStats returns the stats of the node.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// NodeInfo is the JSON view of a known node.
type NodeInfo struct {
	Address       string    `json:"address"`
	NetAddr       string    `json:"net_addr"`
	Moniker       string    `json:"moniker"`
	VerifyingKey  string    `json:"verifying_key"`
	EncryptingKey string    `json:"encrypting_key"`
	Timestamp     time.Time `json:"timestamp"`
}

func nodeInfo(md *fleet.NodeMetadata) NodeInfo {
	return NodeInfo{
		Address:       md.Address.Hex(),
		NetAddr:       md.NetAddr,
		Moniker:       md.Moniker,
		VerifyingKey:  common.EncodeToString(md.VerifyingKey),
		EncryptingKey: common.EncodeToString(md.EncryptingKey),
		Timestamp:     md.Time(),
	}
}

// GetNodes returns the fleet known to the node, sorted by address.
func (s *Service) GetNodes(w http.ResponseWriter, r *http.Request) {
	snapshot := s.node.Learner().State().Snapshot()

	res := struct {
		Checksum string     `json:"checksum"`
		Nodes    []NodeInfo `json:"nodes"`
	}{
		Checksum: common.EncodeToString(snapshot.Checksum),
		Nodes:    make([]NodeInfo, 0, len(snapshot.Nodes)),
	}
	for _, md := range snapshot.Nodes {
		res.Nodes = append(res.Nodes, nodeInfo(md))
	}

	writeJSON(w, res)
}

// SuspectInfo is the JSON view of the evidence against a node.
type SuspectInfo struct {
	Address    string    `json:"address"`
	Reason     string    `json:"reason"`
	ObservedAt time.Time `json:"observed_at"`
	NetAddr    string    `json:"net_addr,omitempty"`
}

// GetSuspicious returns the entries of the node's suspicion ledger.
func (s *Service) GetSuspicious(w http.ResponseWriter, r *http.Request) {
	entries := s.node.Learner().Ledger().Entries()

	res := make([]SuspectInfo, 0, len(entries))
	for _, ev := range entries {
		info := SuspectInfo{
			Address:    ev.Address.Hex(),
			Reason:     ev.Reason.String(),
			ObservedAt: ev.ObservedAt,
		}
		if ev.Record != nil {
			info.NetAddr = ev.Record.NetAddr
		}
		res = append(res, info)
	}

	writeJSON(w, res)
}

// GetTreasureMap returns the public part of a treasure map stored by the
// node. The id is hex encoded.
func (s *Service) GetTreasureMap(w http.ResponseWriter, r *http.Request) {
	param := chi.URLParam(r, "id")

	id, err := hex.DecodeString(strings.TrimPrefix(strings.ToUpper(param), "0X"))
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing map id %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.node.GetTreasureMap(id)
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Errorf("Retrieving treasure map %s", param)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tm := new(policy.TreasureMap)
	if err := tm.Unmarshal(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		MapID             string `json:"map_id"`
		HRAC              string `json:"hrac"`
		OwnerVerifyingKey string `json:"owner_verifying_key"`
		Ciphertext        []byte `json:"ciphertext"`
		PublicSignature   string `json:"public_signature"`
	}{
		MapID:             common.EncodeToString(tm.ID()),
		HRAC:              common.EncodeToString(tm.HRAC),
		OwnerVerifyingKey: common.EncodeToString(tm.OwnerVerifyingKey),
		Ciphertext:        tm.Ciphertext,
		PublicSignature:   common.EncodeToString(tm.PublicSignature),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
