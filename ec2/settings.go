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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/scalyr/agent-build/config"
	"github.com/scalyr/agent-build/errors"
)

// Settings carries everything needed to provision and reach a test node.
type Settings struct {
	// PrefixListID names the shared network allow-list.
	PrefixListID string
	// SecurityGroup is attached to every provisioned node.
	SecurityGroup string
	// KeyName is the EC2 key pair name, PrivateKeyPath the matching local
	// private key used for SSH.
	KeyName        string
	PrivateKeyPath string
	InstanceType   string
	ImageID        string
	SSHUsername    string
	// ObjectsNamePrefix identifies this run's nodes and allow-list
	// entries, so the run can clean up after itself.
	ObjectsNamePrefix string
}

// SettingsFromConfig builds Settings from the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PrefixListID:      cfg.AWS.EC2.PrefixListID,
		SecurityGroup:     cfg.AWS.EC2.SecurityGroup,
		KeyName:           cfg.AWS.EC2.PrivateKeyName,
		PrivateKeyPath:    cfg.AWS.EC2.PrivateKeyPath,
		InstanceType:      cfg.AWS.EC2.InstanceType,
		ImageID:           cfg.AWS.EC2.ImageID,
		SSHUsername:       cfg.AWS.EC2.SSHUsername,
		ObjectsNamePrefix: cfg.AWS.EC2.ObjectsNamePrefix,
	}
}

// Validate checks that the settings name everything provisioning needs.
func (s Settings) Validate() error {
	missing := ""
	switch {
	case s.PrefixListID == "":
		missing = "prefix list id"
	case s.SecurityGroup == "":
		missing = "security group"
	case s.KeyName == "":
		missing = "private key name"
	case s.PrivateKeyPath == "":
		missing = "private key path"
	case s.ImageID == "":
		missing = "image id"
	case s.ObjectsNamePrefix == "":
		missing = "objects name prefix"
	}
	if missing != "" {
		return fmt.Errorf("ec2 settings are missing the %s", missing)
	}
	return nil
}

// NewClient creates an EC2 API client from the loaded configuration,
// deferring to the SDK default chain for anything not set explicitly.
func NewClient(ctx context.Context, cfg *config.Config) (*awsec2.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	if cfg.AWS.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap("load AWS configuration", "", err)
	}
	return awsec2.NewFromConfig(awsCfg), nil
}
