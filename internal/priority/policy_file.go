package priority

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPolicyFile はYAMLファイルからスコア方針を読み込む。
// ファイルに記載のない項目はDefaultPolicyの値を使う。
//
//	tier_step: 1000
//	max_proximity_bonus: 999
//	horizon: 720h
//	tier_dominant: true
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read priority policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy はYAMLバイト列からスコア方針を読み込み、検証する。
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse priority policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid priority policy: %w", err)
	}
	return p, nil
}
