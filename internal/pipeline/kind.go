// Package pipeline enumerates the tracking pipelines the platform runs and
// their dispatch configuration. The set is closed: adding a pipeline means
// adding a Kind constant and its Config here.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one tracking pipeline.
type Kind string

const (
	// OfficialRedirectYamato scrapes the official order page, which forwards
	// to Yamato tracking. Batches originate from OWRYT- spreadsheets.
	OfficialRedirectYamato Kind = "official_website_redirect_to_yamato_tracking"

	// TemporaryFlexibleCapture is the ad-hoc query pipeline fed from the
	// purchasing database instead of a spreadsheet.
	TemporaryFlexibleCapture Kind = "temporary_flexible_capture"

	// RedirectJapanPost handles secondary jobs spawned when an official-site
	// scrape turns out to be handled by Japan Post. Never batch-originated.
	RedirectJapanPost Kind = "redirect_to_japan_post_tracking"

	// OfficialWebsite scrapes the official order page only.
	OfficialWebsite Kind = "official_website_tracking"

	// YamatoOnly queries Yamato tracking pages directly.
	YamatoOnly Kind = "yamato_tracking_only"

	// JapanPostOnly queries Japan Post tracking pages directly.
	JapanPostOnly Kind = "japan_post_tracking_only"

	// JapanPostTen queries Japan Post in ten-number groups.
	JapanPostTen Kind = "japan_post_tracking_10"

	// YamatoTen queries Yamato in ten-number groups and updates the
	// purchasing database directly, with no spreadsheet writeback.
	YamatoTen Kind = "yamato_tracking_10"
)

// Config is the static dispatch configuration of a pipeline.
type Config struct {
	// CustomIDPrefix starts every custom id minted for this pipeline.
	CustomIDPrefix string

	// PathKeyword must appear in a spreadsheet's WebDAV path for the file to
	// belong to this pipeline. Empty for pipelines without file intake.
	PathKeyword string

	// FilenamePrefix must start the spreadsheet file name.
	FilenamePrefix string

	DisplayName string

	// NeedsDocument is true when completed payloads are written back into
	// the originating spreadsheet. False for direct-to-database pipelines.
	NeedsDocument bool

	// URLTemplate builds the target URL from a tracking number for the
	// direct-query pipelines. Empty when URLs come from the source file.
	URLTemplate string
}

var configs = map[Kind]Config{
	OfficialRedirectYamato: {
		CustomIDPrefix: "owryt",
		PathKeyword:    "official_website_redirect_to_yamato_tracking",
		FilenamePrefix: "OWRYT-",
		DisplayName:    "Official Website Redirect to Yamato Tracking",
		NeedsDocument:  true,
	},
	TemporaryFlexibleCapture: {
		CustomIDPrefix: "tfc",
		DisplayName:    "Temporary Flexible Capture",
		NeedsDocument:  false,
	},
	RedirectJapanPost: {
		CustomIDPrefix: "rtjpt",
		DisplayName:    "Redirect to Japan Post Tracking",
		NeedsDocument:  false,
	},
	OfficialWebsite: {
		CustomIDPrefix: "owt",
		PathKeyword:    "official_website_tracking",
		FilenamePrefix: "OWT-",
		DisplayName:    "Official Website Tracking",
		NeedsDocument:  true,
	},
	YamatoOnly: {
		CustomIDPrefix: "yto",
		PathKeyword:    "yamato_tracking_only",
		FilenamePrefix: "YTO-",
		DisplayName:    "Yamato Tracking Only",
		NeedsDocument:  true,
		URLTemplate:    "http://jizen.kuronekoyamato.co.jp/jizen/servlet/crjz.b.NQ0010?id=%s",
	},
	JapanPostOnly: {
		CustomIDPrefix: "jpto",
		PathKeyword:    "japan_post_tracking_only",
		FilenamePrefix: "JPTO-",
		DisplayName:    "Japan Post Tracking Only",
		NeedsDocument:  true,
		URLTemplate:    "https://trackings.post.japanpost.jp/services/srv/search?requestNo1=%s&search.x=62&search.y=13&locale=ja",
	},
	JapanPostTen: {
		CustomIDPrefix: "jpt10",
		PathKeyword:    "japan_post_tracking_10",
		FilenamePrefix: "JPT10-",
		DisplayName:    "Japan Post Tracking 10",
		NeedsDocument:  true,
	},
	YamatoTen: {
		CustomIDPrefix: "yt10",
		PathKeyword:    "yamato_tracking_10",
		FilenamePrefix: "YT10-",
		DisplayName:    "Yamato Tracking 10",
		NeedsDocument:  false,
	},
}

// ErrUnknownKind is returned when a string does not name a known pipeline.
var ErrUnknownKind = errors.New("unknown pipeline kind")

// Parse validates a pipeline name received from the outside.
func Parse(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := configs[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Valid reports whether k names a known pipeline.
func (k Kind) Valid() bool {
	_, ok := configs[k]
	return ok
}

// Config returns the static configuration for k. Panics on unknown kinds;
// callers hold a Kind that came through Parse or a constant.
func (k Kind) Config() Config {
	cfg, ok := configs[k]
	if !ok {
		panic(fmt.Sprintf("pipeline: no config for kind %q", string(k)))
	}
	return cfg
}

func (k Kind) String() string { return string(k) }

// CustomID builds the idempotency key for one job of a batch:
// {prefix}-{batch-short}-{index:04d}.
func (k Kind) CustomID(batchShort string, index int) string {
	return fmt.Sprintf("%s-%s-%04d", k.Config().CustomIDPrefix, batchShort, index)
}

// CompanionCustomID names the Japan Post companion job spawned when a job of
// kind k is redirected: {rtjpt}-from-{source prefix}-{original custom id}.
func CompanionCustomID(source Kind, originalCustomID string) string {
	return fmt.Sprintf("%s-from-%s-%s",
		RedirectJapanPost.Config().CustomIDPrefix,
		source.Config().CustomIDPrefix,
		originalCustomID,
	)
}

// KindForPath resolves a saved spreadsheet path to the pipeline that owns it,
// matching the path keyword and file name prefix.
func KindForPath(path string) (Kind, bool) {
	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}
	for k, cfg := range configs {
		if cfg.PathKeyword == "" {
			continue
		}
		if strings.Contains(path, cfg.PathKeyword) && strings.HasPrefix(name, cfg.FilenamePrefix) {
			return k, true
		}
	}
	return "", false
}

// Kinds returns all known pipeline kinds, for admin listings.
func Kinds() []Kind {
	out := make([]Kind, 0, len(configs))
	for k := range configs {
		out = append(out, k)
	}
	return out
}
