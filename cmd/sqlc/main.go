// sqlc генерирует пакеты запросов: по одному sqlc.yaml на каждый
// internal/modules/storage/service/pg/<repo>/sql/query.sql.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"gopkg.in/yaml.v2"

	"github.com/spf13/viper"
)

const defaultConfigName = "sqlc.yaml"

// packageFor возвращает имя пакета по каталогу запроса, .../operations/sql/query.sql -> sql.
func packageFor(file string) string {
	dir, _ := filepath.Split(file)
	parts := strings.Split(strings.TrimRight(dir, string(os.PathSeparator)), string(os.PathSeparator))
	return parts[len(parts)-1]
}

func generateConfig(engine *viper.Viper, version, file, out string) error {
	dir, _ := filepath.Split(file)
	engine.Set("gen.go.package", packageFor(file))
	engine.Set("gen.go.out", dir)
	engine.Set("queries", file)

	engineSettings := engine.AllSettings()
	delete(engineSettings, "source")

	resultConfig := viper.New()
	resultConfig.Set("version", version)
	resultConfig.Set("sql", []interface{}{engineSettings})

	bs, err := yaml.Marshal(resultConfig.AllSettings())
	if err != nil {
		return errors.Wrap(err, "marshal config to yaml")
	}
	if err := os.WriteFile(out, bs, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", out)
	}
	return nil
}

func collectQueries(patterns []string) ([]string, error) {
	files := make([]string, 0)
	for _, pattern := range patterns {
		f, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "glob %s", pattern)
		}
		files = append(files, f...)
	}
	return files, nil
}

func callSqlc(config string) error {
	cmd := exec.Command("sqlc", "generate", "--file", config)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "call sqlc: %s", string(output))
	}
	return nil
}

func run(base string, dry bool) error {
	v := viper.New()
	v.SetConfigFile(base)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrap(err, "read base config")
	}

	files, err := collectQueries(v.GetStringSlice("sql.0.source"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no query files match sql.0.source")
	}

	engine := v.Sub("sql.0")
	if engine == nil {
		return errors.New("has no sql.0 in config")
	}
	engine.Set("schema", v.GetString("sql.0.schema"))

	defer func() { _ = os.Remove(defaultConfigName) }()
	for _, file := range files {
		if err := generateConfig(engine, v.GetString("version"), file, defaultConfigName); err != nil {
			return errors.Wrapf(err, "config for %s", file)
		}
		if dry {
			bs, _ := os.ReadFile(defaultConfigName)
			fmt.Printf("# %s\n%s\n", file, bs)
			continue
		}
		if err := callSqlc(defaultConfigName); err != nil {
			return errors.Wrapf(err, "generate %s", file)
		}
		fmt.Printf("%s file complete\n", file)
	}
	return nil
}

func main() {
	base := flag.String("config", ".sqlc.base.yaml", "base sqlc config")
	dry := flag.Bool("dry", false, "print generated configs without calling sqlc")
	flag.Parse()

	if err := run(*base, *dry); err != nil {
		fmt.Fprintf(os.Stderr, "sqlc: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("done")
}
