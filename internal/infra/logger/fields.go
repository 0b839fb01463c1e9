package logger

import "go.uber.org/zap"

// Field constructors for identifiers that appear across the tracking pipeline,
// so every component logs them under the same key.

func ClickID(id string) zap.Field { return zap.String("click_id", id) }

func SessionID(id string) zap.Field { return zap.String("session_id", id) }

func UserID(id string) zap.Field { return zap.String("user_id", id) }

func OrderID(id string) zap.Field { return zap.String("order_id", id) }

func ConversionID(id string) zap.Field { return zap.String("conversion_id", id) }
