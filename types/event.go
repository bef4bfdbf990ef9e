package types

// Worker modes carried in the launch payload.
const (
	// ModeOneShot runs the default command once and exits without a coordinator.
	ModeOneShot = 0
	// ModeConnect connects to the coordinator and greets with OK:HELLO.
	ModeConnect = 1
	// ModeListen connects, opens a peer listener and greets with OK:LISTEN(port).
	ModeListen = 2
)

// WorkerEvent is the JSON payload handed to every launched worker.
// Field names match the invocation payload consumed by swarm-worker.
type WorkerEvent struct {
	Mode            int    `json:"mode"`
	Addr            string `json:"addr,omitempty"`
	Port            int    `json:"port,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Region          string `json:"region,omitempty"`
	Nonblock        bool   `json:"nonblock,omitempty"`
	BgSilent        bool   `json:"bg_silent,omitempty"`
	ExpectStatefile bool   `json:"expect_statefile,omitempty"`
	KeepTmpdir      bool   `json:"keep_tmpdir,omitempty"`
	// CACert, SrvCert and SrvKey carry PEM bodies without armor lines.
	CACert  string `json:"cacert,omitempty"`
	SrvCert string `json:"srvcrt,omitempty"`
	SrvKey  string `json:"srvkey,omitempty"`

	// Command template inputs used by mode 0 and by run: commands.
	Command string   `json:"command,omitempty"`
	Vars    []string `json:"vars,omitempty"`
	Args    []string `json:"args,omitempty"`
	Quality string   `json:"quality,omitempty"`
	InFile  string   `json:"infile,omitempty"`
	OutFile string   `json:"outfile,omitempty"`
}
