package config

type WorkerKeyStruct struct {
	// PersistTimeQueue receives time-spent pushes to be flushed to Postgres.
	PersistTimeQueue string
	// PersistAnswersQueue receives answer autosaves to be flushed to Postgres.
	PersistAnswersQueue string
}

var WorkerKey = WorkerKeyStruct{
	PersistTimeQueue:    "persist_time_queue",
	PersistAnswersQueue: "persist_answers_queue",
}
