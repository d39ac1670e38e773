// Package ursula wires the components of an Ursula node from a config.Config:
// key, store, transport, learner, node server and HTTP service.
package ursula

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/mosaicnetworks/ursula/src/character"
	"github.com/mosaicnetworks/ursula/src/config"
	"github.com/mosaicnetworks/ursula/src/crypto"
	"github.com/mosaicnetworks/ursula/src/crypto/keys"
	"github.com/mosaicnetworks/ursula/src/fleet"
	"github.com/mosaicnetworks/ursula/src/learner"
	"github.com/mosaicnetworks/ursula/src/net"
	"github.com/mosaicnetworks/ursula/src/node"
	"github.com/mosaicnetworks/ursula/src/policy"
	"github.com/mosaicnetworks/ursula/src/service"
	"github.com/mosaicnetworks/ursula/src/staking"
	"github.com/mosaicnetworks/ursula/src/store"
	"github.com/sirupsen/logrus"
)

// Ursula is the engine of a proxy node.
type Ursula struct {
	Config    *config.Config
	Power     *crypto.Power
	Suite     crypto.Suite
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Learner   *learner.Learner
	Service   *service.Service
	logger    *logrus.Entry
}

// NewUrsula instantiates a new Ursula object with a given configuration. Init
// must be called before Run.
func NewUrsula(c *config.Config) *Ursula {
	engine := &Ursula{
		Config: c,
		Suite:  crypto.DefaultSuite{},
		logger: c.Logger(),
	}

	return engine
}

func (u *Ursula) initKey() error {
	if u.Config.Key == nil {
		simpleKeyfile := keys.NewSimpleKeyfile(u.Config.Keyfile())

		privKey, err := simpleKeyfile.ReadKey()
		if err != nil {
			u.logger.WithError(err).Warn("Cannot read private key from file")

			privKey, err = Keygen(u.Config.Keyfile())
			if err != nil {
				u.logger.WithError(err).Error("Cannot generate a new private key")
				return err
			}

			u.logger.WithField("keyfile", u.Config.Keyfile()).Info("Created a new key")
		}

		u.Config.Key = privKey
	}

	power, err := crypto.NewPower(u.Config.Key)
	if err != nil {
		return err
	}
	u.Power = power

	return nil
}

func (u *Ursula) initStore() error {
	if !u.Config.Store {
		u.Store = store.NewInmemStore()
		u.logger.Debug("Created new in-mem store")
		return nil
	}

	dbPath := u.Config.DatabaseDir

	u.logger.WithField("path", dbPath).Debug("Opening badger database")

	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return err
	}

	bs, err := store.NewBadgerStore(u.Config.CacheSize, dbPath, u.logger)
	if err != nil {
		return err
	}
	u.Store = bs

	return nil
}

func (u *Ursula) initTransport() error {
	transport, err := net.NewTCPTransport(
		u.Config.BindAddr,
		u.Config.AdvertiseAddr,
		u.Config.MaxPool,
		u.Config.TCPTimeout,
		u.logger,
	)
	if err != nil {
		return err
	}

	u.Transport = transport

	return nil
}

func (u *Ursula) initLearner() error {
	l, err := learner.NewLearner(
		u.Config.LearnerConfig(),
		u.Power.Address(),
		u.Suite,
		u.Transport,
		u.Store,
	)
	if err != nil {
		return err
	}

	if err := l.Restore(); err != nil {
		return fmt.Errorf("restoring known nodes: %s", err)
	}

	u.Learner = l

	return nil
}

func (u *Ursula) initNode() error {
	u.logger.WithFields(logrus.Fields{
		"address":     u.Power.Address().Hex(),
		"known_nodes": u.Learner.State().Len(),
	}).Debug("Creating node")

	u.Node = node.NewNode(
		u.Config.NodeConfig(),
		u.Power,
		u.Suite,
		u.Learner,
		u.Store,
		u.Transport,
	)

	if err := u.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (u *Ursula) initService() error {
	if !u.Config.NoService {
		u.Service = service.NewService(u.Config.ServiceAddr, u.Node, u.logger)
	}
	return nil
}

// Init initializes all the components of the engine.
func (u *Ursula) Init() error {
	if err := u.initKey(); err != nil {
		return err
	}

	if err := u.initStore(); err != nil {
		return err
	}

	if err := u.initTransport(); err != nil {
		return err
	}

	if err := u.initLearner(); err != nil {
		return err
	}

	if err := u.initNode(); err != nil {
		return err
	}

	if err := u.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the HTTP service, learns from the seed teachers in the
// background and serves RPCs until the node is shut down.
func (u *Ursula) Run() {
	if u.Service != nil {
		go u.Service.Serve()
	}

	go func() {
		if _, err := u.Seed(context.Background()); err != nil {
			u.logger.WithError(err).Warn("Seeding from teachers")
		}
	}()

	u.Node.Run(true)
}

// Seed learns from the teachers listed in the data directory. It returns the
// number of teachers that answered. A missing teachers file is not an error.
func (u *Ursula) Seed(ctx context.Context) (int, error) {
	teachers, err := fleet.NewJSONTeachers(u.Config.DataDir).Teachers()
	if err != nil {
		if os.IsNotExist(err) {
			u.logger.Debug("No teachers file")
			return 0, nil
		}
		return 0, err
	}

	answered := 0
	for _, t := range teachers {
		if t.NetAddr == u.Transport.AdvertiseAddr() {
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, u.Config.RequestTimeout)
		report, err := u.Learner.LearnFromTeacher(tctx, t.NetAddr)
		cancel()

		logger := u.logger.WithField("teacher", t.NetAddr)
		if err != nil {
			logger.WithError(err).Warn("Teacher did not teach")
			continue
		}
		answered++

		if t.Address != "" {
			addr, err := crypto.ParseAddress(t.Address)
			if err != nil {
				logger.WithError(err).Warn("Invalid teacher address")
			} else if md, ok := u.Learner.State().Get(addr); !ok || md.NetAddr != t.NetAddr {
				logger.WithField("address", t.Address).Warn("Teacher is not the expected node")
			}
		}

		logger.WithFields(logrus.Fields{
			"applied":  report.Applied,
			"rejected": report.Rejected,
		}).Debug("Learned from teacher")
	}

	if answered == 0 && len(teachers) > 0 {
		return 0, fmt.Errorf("none of the %d teachers answered", len(teachers))
	}

	return answered, nil
}

// Alice returns a data owner that uses the identity, fleet and transport of
// this node.
func (u *Ursula) Alice(eligibility staking.Eligibility, kfrags policy.KFragGenerator) *character.Alice {
	if eligibility == nil {
		eligibility = staking.AllowAll
	}
	if kfrags == nil {
		kfrags = policy.OpaqueKFragGenerator{}
	}
	return character.NewAlice(u.Config.GrantConfig(), u.Power, u.Suite, u.Learner, u.Transport, eligibility, kfrags)
}

// Bob returns a recipient that uses the identity, fleet and transport of this
// node.
func (u *Ursula) Bob() (*character.Bob, error) {
	return character.NewBob(u.Power, u.Suite, u.Learner, u.Transport, u.Config.RequestTimeout, u.logger)
}

// Shutdown stops the HTTP service and the node.
func (u *Ursula) Shutdown() {
	if u.Service != nil {
		ctx, cancel := context.WithTimeout(context.Background(), u.Config.TCPTimeout)
		if err := u.Service.Shutdown(ctx); err != nil {
			u.logger.WithError(err).Warn("Shutting down service")
		}
		cancel()
	}

	if u.Node != nil {
		u.Node.Shutdown()
	}
}

// Keygen generates a new key and writes it to keyfile. It fails if a key is
// already there.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := os.Stat(keyfile); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
