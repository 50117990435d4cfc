package gossip

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	libp2ppubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/broker"
)

// HostOptions configures the libp2p host backing a gossip broker.
type HostOptions struct {
	ListenAddresses []string
	BootstrapPeers  []string
}

// Node is a libp2p host with gossipsub and a bootstrap peer maintenance loop.
type Node struct {
	Host   host.Host
	PubSub *libp2ppubsub.PubSub

	peers  []peer.AddrInfo
	logger *zap.Logger
	cancel context.CancelFunc
}

// StartNode creates the host, joins gossipsub and starts connecting to bootstrap peers.
func StartNode(ctx context.Context, opts HostOptions, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	peers := make([]peer.AddrInfo, 0, len(opts.BootstrapPeers))
	for _, addr := range opts.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap peer %s: %w", addr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap peer %s: %w", addr, err)
		}
		peers = append(peers, *info)
	}

	libp2pOpts := []libp2p.Option{
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
	}
	if len(opts.ListenAddresses) > 0 {
		listenAddrs := make([]multiaddr.Multiaddr, 0, len(opts.ListenAddresses))
		for _, addr := range opts.ListenAddresses {
			ma, err := multiaddr.NewMultiaddr(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
			}
			listenAddrs = append(listenAddrs, ma)
		}
		libp2pOpts = append(libp2pOpts, libp2p.ListenAddrs(listenAddrs...))
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := libp2ppubsub.NewGossipSub(ctx, h,
		libp2ppubsub.WithPeerExchange(true),
		libp2ppubsub.WithFloodPublish(true),
	)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	for _, info := range peers {
		h.Peerstore().AddAddrs(info.ID, info.Addrs, 24*time.Hour)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	n := &Node{Host: h, PubSub: ps, peers: peers, logger: logger, cancel: cancel}

	n.connectToPeers(ctx)
	if len(peers) > 0 {
		go n.peerReconnectionLoop(loopCtx)
	}

	logger.Info("Gossip host started",
		zap.String("peer_id", h.ID().String()),
		zap.Int("bootstrap_peers", len(peers)))
	return n, nil
}

// Addrs returns the host's full multiaddrs including the /p2p/ component.
func (n *Node) Addrs() []string {
	out := make([]string, 0, len(n.Host.Addrs()))
	for _, a := range n.Host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.Host.ID()))
	}
	return out
}

// Close stops the reconnection loop and the host.
func (n *Node) Close() error {
	n.cancel()
	return n.Host.Close()
}

func (n *Node) connectToPeers(ctx context.Context) int {
	connected := 0
	for _, info := range n.peers {
		if info.ID == n.Host.ID() {
			continue
		}
		if err := n.Host.Connect(ctx, info); err != nil {
			n.logger.Debug("Failed to connect to bootstrap peer",
				zap.String("peer", info.ID.String()), zap.Error(err))
			continue
		}
		connected++
	}
	return connected
}

func (n *Node) hasPeerConnections() bool {
	for _, info := range n.peers {
		if n.Host.Network().Connectedness(info.ID) == network.Connected {
			return true
		}
	}
	return false
}

func (n *Node) peerReconnectionLoop(ctx context.Context) {
	interval := 5 * time.Second

	for {
		wait := 30 * time.Second
		if !n.hasPeerConnections() {
			if n.connectToPeers(ctx) == 0 {
				wait = broker.Jitter(interval, time.Second)
				interval = broker.NextBackoff(interval, 10*time.Minute)
			} else {
				interval = 5 * time.Second
			}
		}
		if !broker.Sleep(ctx, wait) {
			return
		}
	}
}
