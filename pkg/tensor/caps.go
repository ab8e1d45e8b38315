package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaType is the caps media type for multi-tensor streams.
const MediaType = "other/tensors"

// Caps renders the format as a GStreamer caps string, the form stored in data
// repository metadata.
func (c Config) Caps() string {
	dims := make([]string, len(c.Info))
	types := make([]string, len(c.Info))
	rateD := c.RateD
	if rateD == 0 {
		rateD = 1
	}
	for i, info := range c.Info {
		dims[i] = info.Dimension.String()
		types[i] = info.Type.String()
	}
	return fmt.Sprintf("%s, format=(string)static, num_tensors=(int)%d, dimensions=(string)\"%s\", types=(string)\"%s\", framerate=(fraction)%d/%d",
		MediaType, c.NumTensors(), strings.Join(dims, ","), strings.Join(types, ","), c.RateN, rateD)
}

// ParseCaps reads a caps string produced by Caps (or by a GStreamer
// other/tensors peer) back into a Config.
func ParseCaps(caps string) (Config, error) {
	var cfg Config
	fields := splitCaps(caps)
	if len(fields) == 0 || strings.TrimSpace(fields[0]) != MediaType {
		return cfg, fmt.Errorf("tensor: caps %q is not %s", caps, MediaType)
	}

	values := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return cfg, fmt.Errorf("tensor: malformed caps field %q", f)
		}
		// Drop the "(type)" annotation and surrounding quotes.
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, "(") {
			if end := strings.Index(val, ")"); end >= 0 {
				val = val[end+1:]
			}
		}
		values[strings.TrimSpace(key)] = strings.Trim(val, "\"")
	}

	if f, ok := values["format"]; ok && f != "static" {
		return cfg, fmt.Errorf("tensor: unsupported tensor format %q", f)
	}

	dims := splitList(values["dimensions"])
	types := splitList(values["types"])
	if len(dims) != len(types) {
		return cfg, fmt.Errorf("tensor: %d dimensions but %d types", len(dims), len(types))
	}
	if n, ok := values["num_tensors"]; ok {
		num, err := strconv.Atoi(n)
		if err != nil || num != len(dims) {
			return cfg, fmt.Errorf("tensor: num_tensors %q does not match %d tensors", n, len(dims))
		}
	}

	for i := range dims {
		d, err := ParseDimension(dims[i])
		if err != nil {
			return cfg, err
		}
		t, err := ParseType(types[i])
		if err != nil {
			return cfg, err
		}
		cfg.Info = append(cfg.Info, Info{Type: t, Dimension: d})
	}

	if fr, ok := values["framerate"]; ok {
		n, d, err := ParseFrameRate(fr)
		if err != nil {
			return cfg, err
		}
		cfg.RateN, cfg.RateD = n, d
	}
	return cfg, cfg.Validate()
}

// splitCaps splits on commas that are not inside double quotes.
func splitCaps(s string) []string {
	var (
		out    []string
		start  int
		quoted bool
	)
	for i, r := range s {
		switch r {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
