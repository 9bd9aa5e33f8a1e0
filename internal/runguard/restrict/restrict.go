// Package restrict defines the JSON contract the runguard supervisor
// writes (on fd 3) and cmd/runguard-init reads, describing everything
// the Restrictions Applier must do before exec'ing the real command
// (SPEC_FULL.md §4.2). It is the Go analogue of the teacher's
// cmd/sandbox-init initRequest, generalized from the teacher's narrower
// rootfs/bind-mount/seccomp set to the full rlimit/cgroup/chroot/identity
// set this spec requires.
package restrict

// Request is encoded by the supervisor and decoded by runguard-init.
type Request struct {
	Command []string `json:"command"`
	Env     []string `json:"env"` // fully resolved KEY=VALUE pairs

	CPUTimeSoftSeconds float64 `json:"cpu_time_soft_seconds"` // 0 = unset
	CPUTimeHardSeconds float64 `json:"cpu_time_hard_seconds"`

	FileBytes int64 `json:"file_bytes"` // -1 = unlimited, 0 = unset
	NProc     int64 `json:"nproc"`
	NoCore    bool  `json:"no_core"`

	CgroupPath    string `json:"cgroup_path"`    // empty = no cgroup join
	CgroupVersion int    `json:"cgroup_version"` // cgroupmgr.Version

	RootDir   string `json:"root_dir"` // empty = no chroot
	RootChdir string `json:"root_chdir"`

	HasGID  bool `json:"has_gid"`
	GID     int  `json:"gid"`
	HasUID  bool `json:"has_uid"`
	UID     int  `json:"uid"`
	RealUID int  `json:"real_uid"`
}

// Response describes a failed restriction stage. Nothing in the tree
// writes or reads it: runguard-init reports a failure by printing the
// error to stderr and exiting with status 1, and the supervisor passes it
// no descriptor beyond fd 3.
type Response struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}
