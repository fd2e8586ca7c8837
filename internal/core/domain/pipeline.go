package domain

// Stage names the states of one question-answering run. Failed is absorbing
// and reachable from every other stage.
type Stage string

const (
	StageEncode   Stage = "encode"
	StageRetrieve Stage = "retrieve"
	StageRerank   Stage = "rerank"
	StageGenerate Stage = "generate"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)
