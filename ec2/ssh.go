/*
Copyright © 2025 Scalyr Team <support@scalyr.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package ec2

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/scalyr/agent-build/errors"
	"github.com/scalyr/agent-build/logging"
)

// testRunnerPath is where the test runner binary is deployed on the node.
const testRunnerPath = "/tmp/test_runner"

// SSHSession holds an SSH connection to a test node.
type SSHSession struct {
	client *ssh.Client
	node   *Node
}

// Connect opens an SSH connection to the node using the settings' private
// key. Host keys are not verified, the nodes are ephemeral and freshly
// provisioned.
func (n *Node) Connect() (*SSHSession, error) {
	keyData, err := os.ReadFile(n.settings.PrivateKeyPath)
	if err != nil {
		return nil, errors.Wrap("read SSH private key", n.settings.PrivateKeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, errors.Wrap("parse SSH private key", n.settings.PrivateKeyPath, err)
	}

	config := &ssh.ClientConfig{
		User:            n.settings.SSHUsername,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
	}

	addr := net.JoinHostPort(n.PublicIP, "22")
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, errors.Wrap("connect to test node", addr, err)
	}

	return &SSHSession{client: client, node: n}, nil
}

// DeployFile copies a local file to the node.
func (s *SSHSession) DeployFile(localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap("open file for deployment", localPath, err)
	}
	defer file.Close()

	session, err := s.client.NewSession()
	if err != nil {
		return errors.Wrap("open SSH session", s.node.Name, err)
	}
	defer session.Close()

	session.Stdin = file
	if err := session.Run(fmt.Sprintf("cat > %s && chmod +x %s", remotePath, remotePath)); err != nil {
		return errors.Wrap("deploy file to node", remotePath, err)
	}

	logging.DebugContext(context.Background(), "Deployed %s to %s:%s", localPath, s.node.Name, remotePath)
	return nil
}

// RunTest executes the deployed test runner with the given command, marked
// as a remote run. A non-zero remote exit status is fatal for the run.
func (s *SSHSession) RunTest(command string) error {
	session, err := s.client.NewSession()
	if err != nil {
		return errors.Wrap("open SSH session", s.node.Name, err)
	}
	defer session.Close()

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	remote := fmt.Sprintf("TEST_RUNS_REMOTELY=1 sudo -E %s -s %s 2>&1", testRunnerPath, command)
	if err := session.Run(remote); err != nil {
		return errors.Wrap("run remote test command", command, err)
	}
	return nil
}

// Close closes the SSH connection.
func (s *SSHSession) Close() error {
	return s.client.Close()
}
