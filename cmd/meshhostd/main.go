// meshhostd is the mesh companion-host daemon: it owns the Session actor
// over a physical or simulated transport, runs the reliability engine, and
// exposes the result to other processes via a local gRPC bridge and an
// optional external telemetry mirror.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Avi0n/PocketMesh-sub005/internal/bridge"
	"github.com/Avi0n/PocketMesh-sub005/internal/config"
	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/reliability"
	"github.com/Avi0n/PocketMesh-sub005/internal/services"
	"github.com/Avi0n/PocketMesh-sub005/internal/session"
	"github.com/Avi0n/PocketMesh-sub005/internal/storage"
	"github.com/Avi0n/PocketMesh-sub005/internal/telemetry"
	"github.com/Avi0n/PocketMesh-sub005/internal/transport"
)

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "meshhostd",
		Short: "Mesh companion-host daemon",
		Long:  "Hosts a Session/Reliability stack against a LoRa mesh node and exposes it over a local gRPC bridge.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE:  runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("meshhostd v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/meshhost/host.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	rt, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	link, err := openTransport(rt)
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}

	db, err := storage.Open(rt.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	bus := eventbus.New(64, func(subscriberID uint64) {
		log.Printf("event bus: dropped slow subscriber %d", subscriberID)
	}, nil)

	sess := session.New(link, bus, rt.Session)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	resender := services.NewSessionResender(sess, bus)
	eng := reliability.New(rt.Reliability, bus, resender, resender)
	eng.Start(ctx)
	defer eng.Stop()

	msgSvc := services.NewMessageService(rt.DeviceID, rt.Session.AppName, sess, eng, db)
	contactSvc := services.NewContactService(rt.DeviceID, sess, db)
	chanSvc := services.NewChannelService(sess)
	nodeSvc := services.NewRemoteNodeService(sess, rt.Session)

	var telemetryClient *telemetry.Client
	if rt.TelemetryURL != "" {
		tcfg := telemetry.DefaultConfig()
		tcfg.URL = rt.TelemetryURL
		tcfg.DeviceID = rt.DeviceID
		telemetryClient = telemetry.New(tcfg)
		telemetry.Mirror(telemetryClient, eng)
		if err := telemetryClient.Start(ctx); err != nil {
			return fmt.Errorf("failed to start telemetry client: %w", err)
		}
		defer telemetryClient.Stop()
	}

	bridgeAddr := rt.BridgeGRPCAddr
	if bridgeAddr == "" {
		bridgeAddr = "127.0.0.1:7711"
	}
	lis, err := net.Listen("tcp", bridgeAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", bridgeAddr, err)
	}
	bridgeServer := bridge.NewServer(msgSvc, contactSvc, chanSvc, nodeSvc, eng)
	go func() {
		if err := bridgeServer.Serve(lis); err != nil {
			log.Printf("bridge server stopped: %v", err)
		}
	}()
	defer bridgeServer.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("meshhostd running for device %s, bridge listening on %s", rt.DeviceID, bridgeAddr)
	sig := <-sigChan
	log.Printf("received signal %v, shutting down...", sig)

	if err := sess.Disconnect(); err != nil {
		log.Printf("error during transport shutdown: %v", err)
	}

	log.Println("shutdown complete")
	return nil
}

// openTransport builds the configured Transport implementation: a serial
// link over an already-open file descriptor, or a ZeroMQ link against a
// mesh-node simulator.
func openTransport(rt config.Runtime) (transport.Transport, error) {
	switch rt.TransportKind {
	case "zmq":
		if rt.ZMQEventEndpoint == "" || rt.ZMQCommandEndpoint == "" {
			return nil, fmt.Errorf("transport.zmq_event_endpoint and transport.zmq_command_endpoint are required for zmq transport")
		}
		nodeIDBytes, err := hex.DecodeString(rt.ZMQNodeIDHex)
		if err != nil || len(nodeIDBytes) != transport.NodeIDSize {
			return nil, fmt.Errorf("transport.zmq_node_id_hex must decode to %d bytes", transport.NodeIDSize)
		}
		zcfg := transport.DefaultZMQConfig()
		zcfg.EventEndpoint = rt.ZMQEventEndpoint
		zcfg.CommandEndpoint = rt.ZMQCommandEndpoint
		copy(zcfg.NodeID[:], nodeIDBytes)
		return transport.NewZMQTransport(zcfg), nil

	case "serial", "":
		if rt.SerialPath == "" {
			return nil, fmt.Errorf("transport.serial_path is required for serial transport")
		}
		f, err := os.OpenFile(rt.SerialPath, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", rt.SerialPath, err)
		}
		return transport.NewSerialTransport(f, transport.DefaultSerialConfig()), nil

	default:
		return nil, fmt.Errorf("unknown transport.kind %q", rt.TransportKind)
	}
}
