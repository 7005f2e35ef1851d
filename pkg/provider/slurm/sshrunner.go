// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package slurm

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/transformerlab/orchestrator-core/internal/logger"
)

// SSHRunner wraps a single ssh.Client connection used for sbatch script
// upload + submission (spec §4.1.2 SSH mode), adapted from
// gravitational-gravity's SSHCommands builder — generalized from cluster
// bootstrapping into a thin command + file-upload runner since this core has
// no SFTP dependency in its corpus (see DESIGN.md).
type SSHRunner struct {
	client *ssh.Client
}

// SSHConfig names the connection parameters for a SLURM login node.
type SSHConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	KnownHostsPath string // host key policy: add-after-first-use (spec §4.1.2)
}

// Dial opens an SSH connection to cfg.Host, recording new host keys to
// cfg.KnownHostsPath on first use rather than rejecting them outright (spec
// §4.1.2: "SSH host key policy: add-after-first-use").
func Dial(cfg SSHConfig) (*SSHRunner, error) {
	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "read private key")
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	hostKeyCallback, err := addAfterFirstUseCallback(cfg.KnownHostsPath)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         15 * time.Second,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Host, port), clientCfg)
	if err != nil {
		return nil, errors.Wrap(err, "dial ssh")
	}
	return &SSHRunner{client: client}, nil
}

// addAfterFirstUseCallback builds a HostKeyCallback that trusts and records
// any host key not already present in knownHostsPath.
func addAfterFirstUseCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0o700); err != nil {
		return nil, err
	}
	if _, err := os.OpenFile(knownHostsPath, os.O_CREATE, 0o600); err != nil {
		return nil, err
	}
	verify, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, errors.Wrap(err, "load known_hosts")
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := verify(hostname, remote, key); err == nil {
			return nil
		}
		f, err := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		line := knownhosts.Line([]string{hostname}, key)
		_, err = f.WriteString(line + "\n")
		if err != nil {
			return err
		}
		logger.Infof("slurm provider: recorded new host key for %s", hostname)
		return nil
	}, nil
}

// Close closes the underlying connection.
func (r *SSHRunner) Close() error { return r.client.Close() }

// Run executes cmd on the remote host and returns its combined stdout and
// exit status.
func (r *SSHRunner) Run(cmd string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "open ssh session")
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	if err := session.Run(cmd); err != nil {
		return out.String(), errors.Wrapf(err, "remote command failed: %s", cmd)
	}
	return out.String(), nil
}

// WriteRemoteFile uploads content to remotePath by piping it to the
// session's stdin for `cat > remotePath`, the SFTP-free file mount strategy
// this core substitutes for paramiko's SFTP usage (spec §4.1.2: "SSH mode
// writes the script via heredoc"; see DESIGN.md for why no SFTP dependency
// is wired).
func (r *SSHRunner) WriteRemoteFile(remotePath string, content []byte) error {
	session, err := r.client.NewSession()
	if err != nil {
		return errors.Wrap(err, "open ssh session")
	}
	defer session.Close()

	dir := filepath.Dir(remotePath)
	stdin, err := session.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "open stdin pipe")
	}

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	cmd := fmt.Sprintf("mkdir -p %q && cat > %q", dir, remotePath)
	if err := session.Start(cmd); err != nil {
		return errors.Wrap(err, "start remote write")
	}
	if _, err := stdin.Write(content); err != nil {
		return errors.Wrap(err, "write remote file content")
	}
	if err := stdin.Close(); err != nil {
		return errors.Wrap(err, "close stdin")
	}
	if err := session.Wait(); err != nil {
		return errors.Wrapf(err, "remote write failed: %s", out.String())
	}
	return nil
}
