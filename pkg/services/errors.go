package services

import "errors"

var (
	// ErrEmptyCorpus はチャンクが0件でインデックスを作れないときに返る
	ErrEmptyCorpus = errors.New("no documents available to build retrieval index")
	// ErrUnknownItem は在庫マスタにも需要履歴にも存在しない品目
	ErrUnknownItem = errors.New("unknown item")
	// ErrInvalidHorizon は予測期間が範囲外
	ErrInvalidHorizon = errors.New("forecast horizon must be between 1 and 365")
	// ErrInsufficientHistory はstrictモードで履歴が10日未満のとき
	ErrInsufficientHistory = errors.New("insufficient history for model forecast")
	// ErrDatasetNotFound はデータディレクトリにテーブルファイルがない
	ErrDatasetNotFound = errors.New("dataset table not found")
	// ErrUnknownTable は存在しないテーブル名
	ErrUnknownTable = errors.New("unknown table")
	// ErrInvalidTopK は検索件数 k が負
	ErrInvalidTopK = errors.New("k must not be negative")
)
