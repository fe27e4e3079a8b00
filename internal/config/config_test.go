package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flowgate.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `{"wallet":{"address":"0x1654653399040a61"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址错误: %s", cfg.Server.Address)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("默认认证模式错误: %s", cfg.Auth.Mode)
	}
	if cfg.Wallet.Network != "mainnet" || cfg.Wallet.AccessURL != "https://rest-mainnet.onflow.org" {
		t.Fatalf("默认网络配置错误: %s %s", cfg.Wallet.Network, cfg.Wallet.AccessURL)
	}
	if cfg.Wallet.PrivateKeyEnv != "FLOWGATE_PRIVATE_KEY" {
		t.Fatalf("默认私钥环境变量错误: %s", cfg.Wallet.PrivateKeyEnv)
	}
	if cfg.Operations.Driver != "memory" || cfg.Operations.MaxRetries != 3 {
		t.Fatalf("默认操作配置错误: %+v", cfg.Operations)
	}
	if cfg.Queue.Driver != "memory" || cfg.Queue.Worker != 4 {
		t.Fatalf("默认队列配置错误: %+v", cfg.Queue)
	}
}

func TestLoadTestnetAccessURL(t *testing.T) {
	path := writeConfigFile(t, `{"wallet":{"network":"testnet"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Wallet.AccessURL != "https://rest-testnet.onflow.org" {
		t.Fatalf("testnet access 地址错误: %s", cfg.Wallet.AccessURL)
	}
}

func TestLoadResolvesRelativeCatalogPath(t *testing.T) {
	path := writeConfigFile(t, `{"bridge":{"catalog_path":"chains.yaml"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	expected := filepath.Join(filepath.Dir(path), "chains.yaml")
	if cfg.Bridge.CatalogPath != expected {
		t.Fatalf("目录路径解析错误: %s != %s", cfg.Bridge.CatalogPath, expected)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("期望缺失的配置文件报错")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("期望空路径报错")
	}
}
