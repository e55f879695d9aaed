package rclone

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"

	"compose-backup/src/util/command"
)

// fakeRemote emulates the subset of rclone used by Syncer against an
// in-memory remote keyed by "remote:/dir/" + name.
type fakeRemote struct {
	mu      sync.Mutex
	files   map[string]string
	calls   [][]string
	copyErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string]string{}}
}

func (f *fakeRemote) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	switch args[0] {
	case "lsjson":
		dir := args[len(args)-1]
		var objs []Object
		for key := range f.files {
			if strings.HasPrefix(key, dir) && !strings.Contains(strings.TrimPrefix(key, dir), "/") {
				n := strings.TrimPrefix(key, dir)
				objs = append(objs, Object{Path: n, Name: n, Size: int64(len(f.files[key]))})
			}
		}
		if len(objs) == 0 {
			return command.Result{Stderr: "error listing: directory not found"}, errors.New("exit status 3")
		}
		sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
		out, _ := json.Marshal(objs)
		return command.Result{Stdout: string(out)}, nil
	case "copy":
		if f.copyErr != nil {
			return command.Result{Stderr: "transfer failed"}, f.copyErr
		}
		src, dst := args[1], args[2]
		var backupDir, suffix string
		for i := 3; i < len(args)-1; i++ {
			switch args[i] {
			case "--backup-dir":
				backupDir = args[i+1]
			case "--suffix":
				suffix = args[i+1]
			}
		}
		n := path.Base(src)
		if old, ok := f.files[dst+n]; ok {
			f.files[backupDir+SuffixedName(n, suffix)] = old
		}
		f.files[dst+n] = "content of " + src
		return command.Result{}, nil
	}
	return command.Result{}, errors.New("unsupported fake command " + args[0])
}
