// Package config holds the communicator's tunables (spec §6) and the
// vars_info descriptor decoder used by the program-description entrypoint.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/MrChengmo/communicator/cmnerr"
)

// Config collects the tunables named in spec §6. Zero values for the pool
// sizes mean "default to the size of the relevant context map" — resolved
// by the caller that owns that map (comm.InitAsync), not here.
type Config struct {
	SendQueueCapacity  int
	SendThreadPoolSize int
	RecvThreadPoolSize int
	GeoNeedPushNums    int
	TrainerNums        int // required in GEO mode
}

// Default returns the spec's recommended defaults.
func Default() Config {
	return Config{
		SendQueueCapacity: 20,
		GeoNeedPushNums:   100,
	}
}

// VarInfo is one entry of the §6 vars_info descriptor.
type VarInfo struct {
	ParamName      []string `json:"param_name"`
	Epmap          []string `json:"epmap"`
	Sections       []int    `json:"sections"`
	OriginVarnames []string `json:"origin_varnames"`
}

// VarsInfo maps a variable's display name to its split descriptor.
type VarsInfo map[string]VarInfo

// ParseVarsInfo decodes a JSON vars_info document with jsoniter, matching
// the teacher's choice of jsoniter over encoding/json for descriptor
// payloads.
func ParseVarsInfo(data []byte) (VarsInfo, error) {
	var vi VarsInfo
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &vi); err != nil {
		return nil, cmnerr.NewConfigurationError("vars_info: invalid json: %v", err)
	}
	return vi, nil
}

// CtxSpec is the plain-data form of comm.RpcContext, kept in this package
// so config has no import-cycle dependency on comm (comm depends on
// config, not the reverse).
type CtxSpec struct {
	VarName         string
	SplitedVarnames []string
	Endpoints       []string
	HeightSections  []int
	OriginVarnames  []string
}

// BuildCtxMaps converts a decoded VarsInfo into one CtxSpec per variable,
// the data comm.InitAsyncFromProgram turns into RpcContexts. ParamName is
// the splited variable name list; spec §6 overloads the descriptor field
// name, this repo keeps it distinct at the Go call site.
func BuildCtxMaps(vi VarsInfo) (map[string]CtxSpec, error) {
	out := make(map[string]CtxSpec, len(vi))
	for name, v := range vi {
		if len(v.ParamName) == 0 {
			return nil, cmnerr.NewConfigurationError("vars_info[%s]: param_name is empty", name)
		}
		out[name] = CtxSpec{
			VarName:         name,
			SplitedVarnames: v.ParamName,
			Endpoints:       v.Epmap,
			HeightSections:  v.Sections,
			OriginVarnames:  v.OriginVarnames,
		}
	}
	return out, nil
}
