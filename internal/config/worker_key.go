package config

type WorkerKeyStruct struct {
	FinalizeAttemptsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	FinalizeAttemptsQueue: "finalize_attempts_queue",
}
