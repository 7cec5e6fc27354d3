package term

import "context"

// SpawnRequest carries everything the host needs to fork a backing process.
type SpawnRequest struct {
	Program     string
	Args        []string
	Cwd         string
	Env         map[string]string
	Cols        int
	Rows        int
	ProjectPath string
}

// Event is a host push of terminal output, keyed by project path so output
// from unrelated sessions can never cross-write.
type Event struct {
	ProjectPath string
	Data        string
}

// Host is the privileged PTY collaborator. Implementations fork and own the
// OS-level processes; this package only ever sees opaque handles.
type Host interface {
	// Exists probes for a live backing process without side effects.
	Exists(ctx context.Context, projectPath string) (bool, error)
	// Spawn forks a backing process and returns its handle.
	Spawn(ctx context.Context, req SpawnRequest) (string, error)
	Write(ctx context.Context, handle, data string) error
	Kill(ctx context.Context, handle string) error
	Resize(ctx context.Context, handle string, cols, rows int) error
	// Subscribe registers a push-event listener and returns its cancel.
	// Cancelling must synchronously stop deliveries to fn.
	Subscribe(fn func(Event)) (cancel func())
}
