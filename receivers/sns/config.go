package sns

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws/arn"

	"github.com/ebpay-ops/alert-router/receivers"
)

// Config publishes to exactly one destination: a topic ARN, a target ARN
// or a phone number. When both access keys are present the client signs
// with them; otherwise the default AWS credential chain applies.
type Config struct {
	APIUrl       string            `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	Region       string            `json:"region,omitempty" yaml:"region,omitempty"`
	AccessKey    string            `json:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey    string            `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	SessionToken string            `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	TopicARN     string            `json:"topic_arn,omitempty" yaml:"topic_arn,omitempty"`
	PhoneNumber  string            `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	TargetARN    string            `json:"target_arn,omitempty" yaml:"target_arn,omitempty"`
	Subject      string            `json:"subject,omitempty" yaml:"subject,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

func NewConfig(jsonData json.RawMessage, decryptFn receivers.DecryptFunc) (Config, error) {
	var settings Config
	err := json.Unmarshal(jsonData, &settings)
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if settings.TopicARN != "" {
		if _, err := arn.Parse(settings.TopicARN); err != nil {
			return Config{}, errors.New("invalid topic ARN provided")
		}
	}
	if settings.TargetARN != "" {
		if _, err := arn.Parse(settings.TargetARN); err != nil {
			return Config{}, errors.New("invalid target ARN provided")
		}
	}
	if settings.TopicARN == "" && settings.TargetARN == "" && settings.PhoneNumber == "" {
		return Config{}, errors.New("must specify topicArn, targetArn, or phone number")
	}

	settings.AccessKey = decryptFn("access_key", settings.AccessKey)
	settings.SecretKey = decryptFn("secret_key", settings.SecretKey)
	settings.SessionToken = decryptFn("session_token", settings.SessionToken)

	if (settings.AccessKey == "") != (settings.SecretKey == "") {
		return Config{}, errors.New("must specify both access_key and secret_key, or neither")
	}

	return settings, nil
}
