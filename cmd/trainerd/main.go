// Command trainerd embeds the Communicator the way a trainer process would:
// parse tunables and a vars_info descriptor, construct either the async or
// GEO-SGD orchestrator through its constructor, start it, and serve
// prometheus metrics until signaled to stop.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrChengmo/communicator/cmn/cos"
	"github.com/MrChengmo/communicator/cmn/nlog"
	"github.com/MrChengmo/communicator/cmnerr"
	"github.com/MrChengmo/communicator/comm"
	"github.com/MrChengmo/communicator/config"
	"github.com/MrChengmo/communicator/geo"
	"github.com/MrChengmo/communicator/rpcface/localrpc"
	"github.com/MrChengmo/communicator/sys"
	"github.com/MrChengmo/communicator/variable"
)

func main() {
	var (
		mode          = flag.String("mode", "async", "communicator mode: async or geo")
		sendVarsPath  = flag.String("send-vars-info", "", "path to the send-side vars_info JSON descriptor")
		recvVarsPath  = flag.String("recv-vars-info", "", "path to the recv-side vars_info JSON descriptor")
		trainerID     = flag.Int("trainer-id", 0, "this trainer's id, selects the RPC client identity")
		trainerNums   = flag.Int("trainer-nums", 1, "trainer count (required in geo mode)")
		pushThreshold = flag.Int("geo-need-push-nums", 100, "geo mode: push batch threshold")
		metricsAddr   = flag.String("metrics-addr", ":9090", "prometheus metrics listen address")
	)
	flag.Parse()
	sys.SetMaxProcs()

	if *sendVarsPath == "" {
		cos.Exitf("missing required flag -send-vars-info")
	}

	sendInfo, err := loadVarsInfo(*sendVarsPath)
	if err != nil {
		cos.Exitf("load send vars_info: %v", err)
	}

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			nlog.Errorf("metrics server stopped: %v", err)
		}
	}()

	client := localrpc.New()
	cfg := config.Default()
	cfg.TrainerNums = *trainerNums

	switch *mode {
	case "geo":
		paramScope := variable.NewScope()
		eng, err := geo.InitGeo(paramScope, sendInfo, *trainerNums, *pushThreshold, *trainerID, client, cfg)
		if err != nil {
			cos.Exitf("init_geo: %v", err)
		}
		if err := eng.Start(); err != nil {
			cos.Exitf("geo start: %v", err)
		}
		waitForShutdown()
		eng.Stop()

	case "async":
		if *recvVarsPath == "" {
			cos.Exitf("missing required flag -recv-vars-info for async mode")
		}
		recvInfo, err := loadVarsInfo(*recvVarsPath)
		if err != nil {
			cos.Exitf("load recv vars_info: %v", err)
		}
		recvScope := variable.NewScope()
		async, err := comm.InitAsyncFromProgram(sendInfo, recvInfo, recvScope, *trainerID, client, cfg)
		if err != nil {
			cos.Exitf("init_async: %v", err)
		}
		if err := async.Start(); err != nil {
			cos.Exitf("async start: %v", err)
		}
		waitForShutdown()
		async.Stop()

	default:
		cos.Exitf("unknown -mode %q, want async or geo", *mode)
	}

	nlog.Flush(true)
}

func loadVarsInfo(path string) (config.VarsInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cmnerr.Wrap(err, "read vars_info %q", path)
	}
	return config.ParseVarsInfo(data)
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	nlog.Infof("received signal %v, shutting down", s)
}
