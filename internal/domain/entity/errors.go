package entity

import "errors"

var (
	// User errors
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrWeakPassword    = errors.New("password must be 8-32 chars with at least one letter and one digit")

	// LLM errors
	ErrInvalidLLMName      = errors.New("invalid llm name")
	ErrInvalidProviderType = errors.New("invalid provider type")
	ErrInvalidModelName    = errors.New("invalid model name")
	ErrInvalidModelType    = errors.New("invalid model type")

	// API key errors
	ErrInvalidAPIKeyAlias = errors.New("invalid api key alias")
	ErrEmptyAPIKey        = errors.New("api key is empty")

	// Knowledge errors
	ErrInvalidKnowledgeName = errors.New("invalid knowledge name")
	ErrInvalidChunkParams   = errors.New("chunk_size must be in [100,2000] and chunk_overlap in [0,500] and smaller than chunk_size")
	ErrNotEmbeddingModel    = errors.New("llm is not an embedding model")

	// Document errors
	ErrInvalidFileName         = errors.New("invalid file name")
	ErrInvalidStatusTransition = errors.New("invalid document status transition")

	// Robot errors
	ErrInvalidRobotName = errors.New("invalid robot name")

	// Session errors
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrSessionNotActive = errors.New("session is not active")

	// Message errors
	ErrInvalidMessageRole = errors.New("invalid message role")
	ErrEmptyMessage       = errors.New("message content is empty")
	ErrInvalidFeedback    = errors.New("feedback must be -1, 0 or 1")
)
