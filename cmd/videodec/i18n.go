// Package main provides localization for the videodec CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Root command
		"Decode video streams through a V4L2 hardware decoder": "V4L2ハードウェアデコーダーで動画ストリームをデコード",

		// Decode command
		"Decode an MP4 file into PNG frames":              "MP4ファイルをPNGフレームにデコード",
		"Output directory for decoded frames":             "デコードフレームの出力ディレクトリ",
		"Configuration file path (YAML)":                  "設定ファイルパス（YAML）",
		"Stream codec (h264, vp8, vp9, hevc)":             "ストリームコーデック (h264, vp8, vp9, hevc)",
		"Decoder device path (default: scan /dev/video*)": "デコーダーデバイスパス（既定: /dev/video* を走査）",
		"Log level (debug, info, warn, error, quiet)":     "ログレベル (debug, info, warn, error, quiet)",
		"exactly one input file is required":              "入力ファイルを1つだけ指定してください",

		// Version command
		"Show version information": "バージョン情報を表示",
		"videodec version %s":      "videodec バージョン %s",
	})
}
