package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Component lifecycle (info)
		"Decoding %s (%s)...":           "%s をデコード中 (%s)...",
		"Output saved to %s":            "出力を %s に保存しました",
		"Component started":             "コンポーネントを開始しました",
		"Component stopped":             "コンポーネントを停止しました",
		"Interrupted, shutting down...": "中断されました。シャットダウン中...",
		"Decoded %d frames":             "%d フレームをデコードしました",
		"Decoding completed in %d ms":   "デコードが %d ms で完了しました",

		// Decoder driver
		"Decoder state %s => %s":                                    "デコーダー状態 %s => %s",
		"Allocated %d output buffers":                               "出力バッファを %d 個確保しました",
		"Need %d output buffers, coded size %dx%d, visible rect %v": "出力バッファが %d 個必要です。コード化サイズ %dx%d, 可視領域 %v",
		"Using block pool id=%d for output buffers":                 "出力バッファにブロックプール id=%d を使用します",

		// Errors
		"Error: %v":                     "エラー: %v",
		"Device open failed: %v":        "デバイスのオープンに失敗しました: %v",
		"Too many concurrent instances": "同時インスタンス数が多すぎます",
	})
}
