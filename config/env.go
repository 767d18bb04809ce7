package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Require returns the value of an environment variable that must be set.
func Require(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", errors.Errorf("%s environment variable is required", key)
	}
	return value, nil
}

// LoadEnvFile loads variables from a .env file without overriding ones
// already present in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "loading env file %s", path)
	}
	return nil
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("ACCOUNT_ID", "CDK_DEFAULT_ACCOUNT"); v != "" {
		cfg.Account = v
	}
	if v := firstEnv("ACCOUNT_REGION", "AWS_REGION", "CDK_DEFAULT_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("PIPELINE_NAME"); v != "" {
		cfg.Pipeline.Name = v
	}
	if v := os.Getenv("GITHUB_OWNER"); v != "" {
		cfg.Source.GitHub.Owner = v
	}
	if v := os.Getenv("GITHUB_REPO"); v != "" {
		cfg.Source.GitHub.Repo = v
	}
	if v := os.Getenv("GITHUB_BRANCH"); v != "" {
		cfg.Source.GitHub.Branch = v
	}
	if v := os.Getenv("GITHUB_TOKEN_SECRET"); v != "" {
		cfg.Source.GitHub.SecretName = v
	}
	if v := os.Getenv("S3_ARTIFACT_BUCKET_NAME"); v != "" {
		cfg.Pipeline.ArtifactBucket.Name = v
	}
	if v := os.Getenv("CODE_DEPLOY_APP_NAME"); v != "" {
		cfg.Deploy.CodeDeploy.ApplicationName = v
	}
}
