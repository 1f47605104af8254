// package main: electrum index server
//
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dtorres/electrumd/electrum"
	"github.com/dtorres/electrumd/indexer"
	"github.com/dtorres/electrumd/lib/chain"
	"github.com/dtorres/electrumd/lib/config"
	"github.com/dtorres/electrumd/lib/daemon"
	"github.com/dtorres/electrumd/lib/index"
	"github.com/dtorres/electrumd/lib/metrics"
	"github.com/dtorres/electrumd/lib/msg"
	"github.com/dtorres/electrumd/lib/msg/amqp"
	"github.com/dtorres/electrumd/lib/store/db"
	"github.com/dtorres/electrumd/web"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	network := flag.String("network", "", "blockchain network {mainnet,testnet,regtest}")
	dbType := flag.String("dbtype", "", "index database backend {leveldb,mongodb,postgresql}")
	dbDir := flag.String("db-dir", "", "on-disk index storage location (leveldb)")
	dbConn := flag.String("dbconn", "", "index database connection uri (mongodb, postgresql)")
	daemonAddr := flag.String("daemon-rpc-addr", "", "upstream full-node RPC endpoint host:port")
	cookie := flag.String("cookie", "", "user:pass credential for daemon authentication")
	cookieFile := flag.String("cookie-file", "", "file holding the user:pass daemon credential")
	electrumAddr := flag.String("electrum-rpc-addr", "", "listen address for Electrum protocol clients")
	httpAddr := flag.String("http-addr", "", "listen address for the HTTP interface")
	addressSearch := flag.Bool("address-search", false, "enable address-based lookup capability")
	jsonrpcImport := flag.Bool("jsonrpc-import", false, "use JSON-RPC for initial data import (the only mode)")
	indexUnspendables := flag.Bool("index-unspendables", false, "include unspendable outputs in the index")
	rpcLogging := flag.Bool("enable-json-rpc-logging", false, "verbose logging of RPC traffic")
	vvv := flag.Bool("vvv", false, "maximum log verbosity")
	flag.Parse()

	//extract configuration
	var err error
	var conf config.ServiceConfig
	if conf, err = config.ExtractConfiguration(*confPath); err != nil {
		panic(err)
	}

	// command line flags override file and environment
	if *network != "" {
		conf.Network = *network
	}
	if *dbType != "" {
		conf.DBType = *dbType
	}
	if *dbDir != "" {
		conf.DBDir = *dbDir
	}
	if *dbConn != "" {
		conf.DBConn = *dbConn
	}
	if *daemonAddr != "" {
		conf.DaemonRPCAddr = *daemonAddr
	}
	if *cookie != "" {
		conf.Cookie = *cookie
	}
	if *cookieFile != "" {
		conf.CookieFile = *cookieFile
	}
	if *electrumAddr != "" {
		conf.ElectrumRPCAddr = *electrumAddr
	}
	if *httpAddr != "" {
		conf.HTTPAddr = *httpAddr
	}
	if *addressSearch {
		conf.AddressSearch = true
	}
	if *jsonrpcImport {
		conf.JSONRPCImport = true
	}
	if *indexUnspendables {
		conf.IndexUnspendables = true
	}
	if *rpcLogging {
		conf.RPCLogging = true
	}
	if *vvv {
		conf.Verbosity = 3
		conf.RPCLogging = true
	}

	if err = config.Validate(conf); err != nil {
		panic(err)
	}
	log.Printf("Configuration:%+v", conf)

	params, err := chain.Params(conf.Network)
	if err != nil {
		panic(err)
	}

	// connect to database
	log.Printf("Connecting to %s database", conf.DBType)
	kv, err := db.New(conf.DBType, conf.DBConn, conf.DBDir)
	if err != nil {
		panic(err)
	}

	// connect to the upstream daemon
	d, err := daemon.New(conf.DaemonRPCAddr, conf.Cookie, conf.CookieFile, conf.Network,
		conf.MaxBlocks, conf.RPCLogging)
	if err != nil {
		panic(err)
	}
	log.Printf("Daemon RPC client loaded for %s", conf.DaemonRPCAddr)

	// load Prometheus monitor
	met := metrics.New(conf.Network)
	stopMetrics := make(chan struct{})
	met.WatchStore(kv, 15*time.Second, stopMetrics)

	if *monitor {
		go func() {
			log.Println("Serving metrics API")
			h := http.NewServeMux()
			h.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker
	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}
		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
		defer func() {
			err := mb.Close()
			log.Printf("Closing messageBroker: %e", err)
		}()
	case "":
		log.Println("Message broker disabled")
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create services
	hub := electrum.NewHub(kv)

	ix, err := indexer.New(conf.Network, kv, d, mb, hub, met, params, indexer.Options{
		AddressSearch:     conf.AddressSearch,
		IndexUnspendables: conf.IndexUnspendables,
	})
	if err != nil {
		panic(err)
	}

	// prime the Electrum tip from the indexed cursor
	cs := ix.Cursor()
	if tip, _ := cs.Tip(); tip >= 0 {
		if v, errTip := kv.Get(index.HeaderKey(uint32(tip))); errTip == nil {
			if _, header, errHdr := index.ParseHeaderValue(v); errHdr == nil {
				hub.SetTip(tip, header)
			}
		}
	}

	es := electrum.NewServer(conf.Network, kv, d, params, hub, met, conf.RPCLogging)
	api := web.New(conf.Network, kv, d, params, cs, conf.AddressSearch)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		ix.Stop()
		es.Stop()
		api.Stop()
		close(stopMetrics)
	}()

	// launch services creating a waiting channel for each
	w := make(chan string, 3)

	ixDone := ix.Run()
	go func() { w <- <-ixDone }()
	go func() { w <- es.Serve(conf.ElectrumRPCAddr) }()
	go func() { w <- api.Init(conf.HTTPAddr) }()

	for i := 1; i <= 3; i++ {
		log.Printf("Service %d/3 returned: %s", i, <-w)
	}

	// close database and daemon connections
	d.Close()
	err = db.Close(conf.DBType, kv)
	log.Printf("Disconnecting %v database, err:%v\n", conf.DBType, err)
}
