/*
Copyright 2026 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fetch

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/defaults"
	"github.com/gravitational/logport/lib/utils"
)

// SFTPConfig configures the SFTP fetcher.
type SFTPConfig struct {
	// Host is the server to connect to
	Host string `json:"host"`
	// Port is the SSH port, 22 when unset
	Port int `json:"port"`
	// Username authenticates the SSH session
	Username string `json:"username"`
	// Password is used when set; PrivateKey otherwise
	Password string `json:"password"`
	// PrivateKey is a PEM encoded client key
	PrivateKey string `json:"private_key"`
	// RemotePath is the log file or directory to fetch
	RemotePath string `json:"remote_path"`
	// Pattern filters directory entries, * when unset
	Pattern string `json:"pattern"`
	// IncludeRotated also fetches rotated siblings of the matched
	// files
	IncludeRotated *bool `json:"include_rotated"`
	// KnownHostsFile is the host key database used to verify the
	// server, ~/.ssh/known_hosts when unset
	KnownHostsFile string `json:"known_hosts_file"`
	// InsecureSkipHostKeyCheck disables host key verification.
	// Never set this outside of isolated test environments.
	InsecureSkipHostKeyCheck bool `json:"insecure_skip_host_key_check"`
	// Retries is how many times a transient failure is retried
	Retries *int `json:"retries"`
	// RetryDelaySeconds spaces retries, growing linearly
	RetryDelaySeconds int `json:"retry_delay"`
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *SFTPConfig) CheckAndSetDefaults() error {
	if c.Host == "" {
		return trace.BadParameter("missing parameter host")
	}
	if c.Username == "" {
		return trace.BadParameter("missing parameter username")
	}
	if c.RemotePath == "" {
		return trace.BadParameter("missing parameter remote_path")
	}
	if c.Password == "" && c.PrivateKey == "" {
		return trace.BadParameter("either password or private_key is required")
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Pattern == "" {
		c.Pattern = "*"
	}
	if c.IncludeRotated == nil {
		on := true
		c.IncludeRotated = &on
	}
	if c.Retries == nil {
		retries := defaults.FetchRetries
		c.Retries = &retries
	}
	if c.RetryDelaySeconds == 0 {
		c.RetryDelaySeconds = int(defaults.FetchRetryDelay / time.Second)
	}
	return nil
}

// SFTPFetcher fetches log files over SFTP.
type SFTPFetcher struct {
	cfg SFTPConfig
	*log.Entry

	conn   *ssh.Client
	client *sftp.Client
}

// NewSFTPFetcher returns a fetcher for the configured server. The
// connection is established lazily on first use.
func NewSFTPFetcher(cfg SFTPConfig) (*SFTPFetcher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &SFTPFetcher{
		cfg: cfg,
		Entry: log.WithFields(log.Fields{
			logport.Component: logport.ComponentFetcher,
			"host":            cfg.Host,
		}),
	}, nil
}

func (f *SFTPFetcher) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if f.cfg.InsecureSkipHostKeyCheck {
		f.Warningf("Host key verification is disabled.")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	knownHosts := f.cfg.KnownHostsFile
	if knownHosts == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(knownHosts)
	if err != nil {
		return nil, trace.Wrap(err, "reading known hosts file %v", knownHosts)
	}
	return callback, nil
}

// connect establishes (or reuses) the SSH connection and SFTP
// subsystem.
func (f *SFTPFetcher) connect() (*sftp.Client, error) {
	if f.client != nil {
		return f.client, nil
	}

	var auth []ssh.AuthMethod
	switch {
	case f.cfg.Password != "":
		auth = append(auth, ssh.Password(f.cfg.Password))
	case f.cfg.PrivateKey != "":
		signer, err := ssh.ParsePrivateKey([]byte(f.cfg.PrivateKey))
		if err != nil {
			return nil, trace.BadParameter("parsing private key: %v", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	hostKeyCallback, err := f.hostKeyCallback()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	addr := f.cfg.Host + ":" + strconv.Itoa(f.cfg.Port)
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            f.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         defaults.SFTPConnectTimeout,
	})
	if err != nil {
		return nil, convertSSHError(err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, trace.ConnectionProblem(err, "starting sftp subsystem: %v", err)
	}
	f.conn, f.client = conn, client
	return client, nil
}

// disconnect drops the connection so the next attempt redials.
func (f *SFTPFetcher) disconnect() {
	if f.client != nil {
		f.client.Close()
		f.client = nil
	}
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// TestConnection connects and verifies the remote path exists.
func (f *SFTPFetcher) TestConnection(ctx context.Context) error {
	client, err := f.connect()
	if err != nil {
		return trace.Wrap(err)
	}
	if _, err := client.Stat(f.cfg.RemotePath); err != nil {
		if os.IsNotExist(err) {
			return trace.NotFound("remote path not found: %v", f.cfg.RemotePath)
		}
		return trace.ConnectionProblem(err, "stat %v: %v", f.cfg.RemotePath, err)
	}
	return nil
}

// Fetch discovers and downloads the configured files, retrying
// transient failures with linearly growing delays. Files that fail to
// read individually are skipped; only whole-attempt failures are
// retried.
func (f *SFTPFetcher) Fetch(ctx context.Context) ([]File, error) {
	delay := time.Duration(f.cfg.RetryDelaySeconds) * time.Second
	retry, err := utils.NewLinear(utils.LinearConfig{
		First: delay,
		Step:  delay,
		Max:   time.Duration(*f.cfg.Retries+1) * delay,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var files []File
	err = retry.ForAttempts(ctx, *f.cfg.Retries, func() error {
		var err error
		files, err = f.fetchOnce()
		if err != nil {
			f.disconnect()
			return trace.Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return files, nil
}

func (f *SFTPFetcher) fetchOnce() ([]File, error) {
	client, err := f.connect()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	paths, err := f.discover(client)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		data, err := f.read(client, p)
		if err != nil {
			f.WithError(err).Warningf("Failed to fetch %v, skipping.", p)
			continue
		}
		name, data := decompress(path.Base(p), data)
		files = append(files, File{Name: name, Data: data, Size: int64(len(data))})
		f.Debugf("Fetched %v (%v).", p, humanize.Bytes(uint64(len(data))))
	}
	return files, nil
}

// discover resolves the remote path into the list of files to fetch:
// a directory is scanned for entries matching the pattern (rotated
// siblings included), a file brings in its own rotated siblings.
func (f *SFTPFetcher) discover(client *sftp.Client) ([]string, error) {
	remotePath := f.cfg.RemotePath
	fi, err := client.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("remote path not found: %v", remotePath)
		}
		return nil, trace.ConnectionProblem(err, "stat %v: %v", remotePath, err)
	}

	var paths []string
	if fi.IsDir() {
		entries, err := client.ReadDir(remotePath)
		if err != nil {
			return nil, trace.ConnectionProblem(err, "listing %v: %v", remotePath, err)
		}
		patterns := discoveryPatterns(f.cfg.Pattern, *f.cfg.IncludeRotated)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if matchesAny(entry.Name(), patterns) {
				paths = append(paths, path.Join(remotePath, entry.Name()))
			}
		}
	} else {
		paths = append(paths, remotePath)
		if *f.cfg.IncludeRotated {
			parent, base := path.Split(remotePath)
			entries, err := client.ReadDir(path.Clean(parent))
			if err != nil {
				// the main file is still fetchable
				entries = nil
			}
			for _, entry := range entries {
				if entry.Name() == base || entry.IsDir() {
					continue
				}
				if matchesAny(entry.Name(), []string{base + ".*"}) {
					paths = append(paths, path.Join(path.Clean(parent), entry.Name()))
				}
			}
		}
	}
	return dedupe(paths), nil
}

func (f *SFTPFetcher) read(client *sftp.Client, p string) ([]byte, error) {
	// stat first so an unreadable file is skipped before the
	// transfer starts
	if _, err := client.Stat(p); err != nil {
		return nil, trace.Wrap(err)
	}
	file, err := client.Open(p)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// Close drops the SSH connection.
func (f *SFTPFetcher) Close() error {
	f.disconnect()
	return nil
}

// convertSSHError maps SSH dial failures onto trace errors so auth
// problems are recorded on the source instead of retried forever.
func convertSSHError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range []string{
		"unable to authenticate",
		"no supported methods remain",
		"permission denied",
		"knownhosts: key mismatch",
		"key is unknown",
	} {
		if strings.Contains(msg, marker) {
			return trace.AccessDenied("ssh authentication failed: %v", err)
		}
	}
	return trace.ConnectionProblem(err, "ssh connection failed: %v", err)
}
