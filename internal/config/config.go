// Package config loads the D2SLAM agent configuration. It follows the
// optional-pointer-field pattern: a single JSON file is the source of
// truth, every field is a pointer so a partial override file only touches
// the fields it mentions, and Get* accessors supply the production
// default for anything left nil.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the canonical defaults file shipped with the repo.
const DefaultConfigPath = "config/defaults.json"

// PGOMode selects how loop edges interact with the (external) pose-graph
// optimizer.
type PGOMode string

const (
	PGONonDistributed PGOMode = "non_dist"
	PGODistributed    PGOMode = "distributed"
)

// EstimationMode selects the estimator's collaboration strategy.
type EstimationMode string

const (
	EstimationSingleDrone         EstimationMode = "single_drone"
	EstimationDistributedConsensus EstimationMode = "distributed_consensus"
	EstimationServer              EstimationMode = "server"
)

// CameraConfiguration selects the rig layout the front-end expects.
type CameraConfiguration string

const (
	CameraStereoPinhole    CameraConfiguration = "stereo_pinhole"
	CameraStereoFisheye    CameraConfiguration = "stereo_fisheye"
	CameraPinholeDepth     CameraConfiguration = "pinhole_depth"
	CameraFourCornerFisheye CameraConfiguration = "fourcorner_fisheye"
)

// Config is the root configuration for a D2SLAM agent. Every field mirrors
// a recognized option from the specification's configuration surface.
// Fields left nil in an override file keep their Get* default.
type Config struct {
	SelfID          *int    `json:"self_id,omitempty"`
	PGOMode         *string `json:"pgo_mode,omitempty"`
	EstimationMode  *string `json:"estimation_mode,omitempty"`
	CameraConfig    *string `json:"camera_configuration,omitempty"`

	// Solver
	MinSolveFrames   *int     `json:"min_solve_frames,omitempty"`
	MaxSldWinSize    *int     `json:"max_sld_win_size,omitempty"`
	SolveMaxIter     *int     `json:"solve_max_iterations,omitempty"`
	SolveMaxDuration *string  `json:"solve_max_duration,omitempty"`
	EstimateExtrinsic *bool   `json:"estimate_extrinsic,omitempty"`
	EstimateTd       *bool    `json:"estimate_td,omitempty"`
	TdInitial        *float64 `json:"td_initial,omitempty"`
	TdMaxDiff        *string  `json:"td_max_diff,omitempty"`
	FuseDep          *bool    `json:"fuse_dep,omitempty"`
	MaxDepthToFuse   *float64 `json:"max_depth_to_fuse,omitempty"`
	MinInvDep        *float64 `json:"min_inv_dep,omitempty"`

	// Front-end
	FeatureMinDist *float64 `json:"feature_min_dist,omitempty"`
	UndistortFov   *float64 `json:"undistort_fov,omitempty"`
	FocalLength    *float64 `json:"focal_length,omitempty"`
	KnnMatchRatio  *float64 `json:"knn_match_ratio,omitempty"`
	ShowRawImage   *bool    `json:"show_raw_image,omitempty"`

	// Loop
	LoopInlierFeatureNum *int     `json:"loop_inlier_feature_num,omitempty"`
	AcceptLoopMaxYaw     *float64 `json:"accept_loop_max_yaw,omitempty"`
	AcceptLoopMaxPos     *float64 `json:"accept_loop_max_pos,omitempty"`
	GravityCheckThres    *float64 `json:"gravity_check_thres,omitempty"`
	PnpMinInliers        *int     `json:"pnp_min_inliers,omitempty"`
	KnnMatchRatioLoop    *float64 `json:"knn_match_ratio_loop,omitempty"`
	SearchLocalDist      *float64 `json:"search_local_dist,omitempty"`

	// Network / swarm
	SwarmListenAddr       *string `json:"swarm_listen_addr,omitempty"`
	SwarmBroadcastAddr    *string `json:"swarm_broadcast_addr,omitempty"`
	SendImg               *bool   `json:"send_img,omitempty"`
	SendWholeImgDesc      *bool   `json:"send_whole_img_desc,omitempty"`
	RecvMsgDuration       *string `json:"recv_msg_duration,omitempty"`
	EnablePubRemoteFrame  *bool   `json:"enable_pub_remote_frame,omitempty"`
	EnableSubRemoteFrame  *bool   `json:"enable_sub_remote_frame,omitempty"`
	LazyBroadcastKeyframe *bool   `json:"lazy_broadcast_keyframe,omitempty"`

	// IMU ingestion
	ImuSerialPort *string `json:"imu_serial_port,omitempty"`
	ImuSerialBaud *int    `json:"imu_serial_baud,omitempty"`

	// Keyframe database
	KeyframeDBPath *string `json:"keyframe_db_path,omitempty"`
}

// EmptyConfig returns a Config with every field nil, ready to be
// unmarshalled into or used directly via the Get* defaults.
func EmptyConfig() *Config { return &Config{} }

// LoadConfig loads a Config from a JSON file. Fields omitted from the file
// retain their Get* default; the file must end in .json and be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads config/defaults.json, searching from the
// current directory up through a few parents. Panics on failure; intended
// for tests and for binaries that have already validated config presence.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, p := range candidates {
		if cfg, err := LoadConfig(p); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate rejects configuration errors that §7 classifies as fatal at
// initialization: conflicting modes and malformed durations.
func (c *Config) Validate() error {
	if c.EstimationMode != nil && *c.EstimationMode == string(EstimationDistributedConsensus) &&
		c.PGOMode != nil && *c.PGOMode == string(PGONonDistributed) {
		return fmt.Errorf("estimation_mode=distributed_consensus requires pgo_mode=distributed, got %q", *c.PGOMode)
	}
	for name, v := range map[string]*string{
		"solve_max_duration": c.SolveMaxDuration,
		"td_max_diff":        c.TdMaxDiff,
		"recv_msg_duration":  c.RecvMsgDuration,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
		}
	}
	if c.CameraConfig != nil {
		switch CameraConfiguration(*c.CameraConfig) {
		case CameraStereoPinhole, CameraStereoFisheye, CameraPinholeDepth, CameraFourCornerFisheye:
		default:
			return fmt.Errorf("unknown camera_configuration %q", *c.CameraConfig)
		}
	}
	return nil
}

func (c *Config) GetSelfID() int {
	if c.SelfID == nil {
		return 0
	}
	return *c.SelfID
}

func (c *Config) GetPGOMode() PGOMode {
	if c.PGOMode == nil {
		return PGONonDistributed
	}
	return PGOMode(*c.PGOMode)
}

func (c *Config) GetEstimationMode() EstimationMode {
	if c.EstimationMode == nil {
		return EstimationSingleDrone
	}
	return EstimationMode(*c.EstimationMode)
}

func (c *Config) GetCameraConfiguration() CameraConfiguration {
	if c.CameraConfig == nil {
		return CameraStereoPinhole
	}
	return CameraConfiguration(*c.CameraConfig)
}

func (c *Config) GetMinSolveFrames() int {
	if c.MinSolveFrames == nil {
		return 2
	}
	return *c.MinSolveFrames
}

func (c *Config) GetMaxSldWinSize() int {
	if c.MaxSldWinSize == nil {
		return 10
	}
	return *c.MaxSldWinSize
}

func (c *Config) GetSolveMaxIter() int {
	if c.SolveMaxIter == nil {
		return 8
	}
	return *c.SolveMaxIter
}

func (c *Config) GetSolveMaxDuration() time.Duration {
	return parseDurationOr(c.SolveMaxDuration, 40*time.Millisecond)
}

func (c *Config) GetEstimateExtrinsic() bool {
	return c.EstimateExtrinsic != nil && *c.EstimateExtrinsic
}

func (c *Config) GetEstimateTd() bool {
	return c.EstimateTd != nil && *c.EstimateTd
}

func (c *Config) GetTdInitial() float64 {
	if c.TdInitial == nil {
		return 0
	}
	return *c.TdInitial
}

func (c *Config) GetTdMaxDiff() time.Duration {
	return parseDurationOr(c.TdMaxDiff, 50*time.Millisecond)
}

func (c *Config) GetFuseDep() bool {
	return c.FuseDep != nil && *c.FuseDep
}

func (c *Config) GetMaxDepthToFuse() float64 {
	if c.MaxDepthToFuse == nil {
		return 8.0
	}
	return *c.MaxDepthToFuse
}

func (c *Config) GetMinInvDep() float64 {
	if c.MinInvDep == nil {
		return 1.0 / 50.0
	}
	return *c.MinInvDep
}

func (c *Config) GetFeatureMinDist() float64 {
	if c.FeatureMinDist == nil {
		return 20.0
	}
	return *c.FeatureMinDist
}

func (c *Config) GetUndistortFov() float64 {
	if c.UndistortFov == nil {
		return 200.0
	}
	return *c.UndistortFov
}

func (c *Config) GetFocalLength() float64 {
	if c.FocalLength == nil {
		return 460.0
	}
	return *c.FocalLength
}

func (c *Config) GetKnnMatchRatio() float64 {
	if c.KnnMatchRatio == nil {
		return 0.8
	}
	return *c.KnnMatchRatio
}

func (c *Config) GetShowRawImage() bool {
	return c.ShowRawImage != nil && *c.ShowRawImage
}

func (c *Config) GetLoopInlierFeatureNum() int {
	if c.LoopInlierFeatureNum == nil {
		return 15
	}
	return *c.LoopInlierFeatureNum
}

func (c *Config) GetAcceptLoopMaxYaw() float64 {
	if c.AcceptLoopMaxYaw == nil {
		return 0.3
	}
	return *c.AcceptLoopMaxYaw
}

func (c *Config) GetAcceptLoopMaxPos() float64 {
	if c.AcceptLoopMaxPos == nil {
		return 1.0
	}
	return *c.AcceptLoopMaxPos
}

func (c *Config) GetGravityCheckThres() float64 {
	if c.GravityCheckThres == nil {
		return 0.2
	}
	return *c.GravityCheckThres
}

func (c *Config) GetPnpMinInliers() int {
	if c.PnpMinInliers == nil {
		return 8
	}
	return *c.PnpMinInliers
}

func (c *Config) GetKnnMatchRatioLoop() float64 {
	if c.KnnMatchRatioLoop == nil {
		return 0.7
	}
	return *c.KnnMatchRatioLoop
}

func (c *Config) GetSearchLocalDist() float64 {
	if c.SearchLocalDist == nil {
		return 0
	}
	return *c.SearchLocalDist
}

func (c *Config) GetSwarmListenAddr() string {
	if c.SwarmListenAddr == nil || *c.SwarmListenAddr == "" {
		return ":9700"
	}
	return *c.SwarmListenAddr
}

func (c *Config) GetSwarmBroadcastAddr() string {
	if c.SwarmBroadcastAddr == nil || *c.SwarmBroadcastAddr == "" {
		return "255.255.255.255:9700"
	}
	return *c.SwarmBroadcastAddr
}

func (c *Config) GetSendImg() bool               { return c.SendImg != nil && *c.SendImg }
func (c *Config) GetSendWholeImgDesc() bool      { return c.SendWholeImgDesc != nil && *c.SendWholeImgDesc }
func (c *Config) GetEnablePubRemoteFrame() bool  { return c.EnablePubRemoteFrame == nil || *c.EnablePubRemoteFrame }
func (c *Config) GetEnableSubRemoteFrame() bool  { return c.EnableSubRemoteFrame == nil || *c.EnableSubRemoteFrame }
func (c *Config) GetLazyBroadcastKeyframe() bool { return c.LazyBroadcastKeyframe != nil && *c.LazyBroadcastKeyframe }

func (c *Config) GetRecvMsgDuration() time.Duration {
	return parseDurationOr(c.RecvMsgDuration, 10*time.Millisecond)
}

func (c *Config) GetImuSerialPort() string {
	if c.ImuSerialPort == nil {
		return ""
	}
	return *c.ImuSerialPort
}

func (c *Config) GetImuSerialBaud() int {
	if c.ImuSerialBaud == nil {
		return 921600
	}
	return *c.ImuSerialBaud
}

func (c *Config) GetKeyframeDBPath() string {
	if c.KeyframeDBPath == nil || *c.KeyframeDBPath == "" {
		return "d2slam_keyframes.db"
	}
	return *c.KeyframeDBPath
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
