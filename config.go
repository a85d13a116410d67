package idechat

import (
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	. "github.com/stevegt/goadapt"
)

// DefaultConfigFile is read if it exists.  Flags and environment
// variables override its values.
const DefaultConfigFile = "~/.config/idechat/config.toml"

// TOML is a kong configuration loader for TOML files.  Top-level keys
// name flags, with dashes or underscores, e.g.
//
//	base_url = "https://openrouter.ai/api/v1"
//	retry-delay = "500ms"
//
// A table named after a command holds that command's flags.
func TOML(r io.Reader) (resolver kong.Resolver, err error) {
	defer Return(&err)
	values := map[string]interface{}{}
	_, err = toml.NewDecoder(r).Decode(&values)
	Ck(err)
	var f kong.ResolverFunc = func(ctx *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		if parent != nil && parent.Command != nil {
			if sub, ok := values[parent.Command.Name].(map[string]interface{}); ok {
				if raw, ok := lookup(sub, flag.Name); ok {
					return raw, nil
				}
			}
		}
		if raw, ok := lookup(values, flag.Name); ok {
			return raw, nil
		}
		return nil, nil
	}
	resolver = f
	return
}

func lookup(values map[string]interface{}, name string) (raw interface{}, ok bool) {
	for _, key := range []string{name, strings.ReplaceAll(name, "-", "_")} {
		raw, ok = values[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case int64:
			// kong parses resolved scalars from their string form
			raw = Spf("%d", v)
		case float64:
			raw = Spf("%v", v)
		}
		return
	}
	return
}

// configPath returns the value of the last --config flag in args, if
// any.
func configPath(args []string) (path string, ok bool) {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, found := strings.CutPrefix(arg, "--config="); found {
			path, ok = v, true
		} else if arg == "--config" && i+1 < len(args) {
			path, ok = args[i+1], true
		}
	}
	return
}
