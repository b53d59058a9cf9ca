package store

// Times are stored as Unix milliseconds and flags as 'Y'/'N' so the same
// queries run on both backends.

const schemaSQLite = `
PRAGMA foreign_keys=ON;
` + schemaTables

const schemaPostgres = schemaTables

const schemaTables = `
CREATE TABLE IF NOT EXISTS students (
	id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	act_math INTEGER NOT NULL DEFAULT 0,
	sat_math INTEGER NOT NULL DEFAULT 0,
	licensed TEXT NOT NULL DEFAULT 'N',
	hold_severity TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS survey_answers (
	student_id TEXT NOT NULL,
	exam_id TEXT NOT NULL,
	question INTEGER NOT NULL,
	answer TEXT NOT NULL,
	answered_ms BIGINT NOT NULL,
	PRIMARY KEY (student_id, exam_id, question)
);

CREATE TABLE IF NOT EXISTS pending_exams (
	serial BIGINT NOT NULL,
	student_id TEXT NOT NULL,
	exam_id TEXT NOT NULL,
	realized_ms BIGINT NOT NULL,
	exam_json TEXT NOT NULL,
	PRIMARY KEY (serial, student_id)
);

CREATE TABLE IF NOT EXISTS student_exams (
	student_id TEXT NOT NULL,
	exam_id TEXT NOT NULL,
	serial BIGINT NOT NULL,
	course TEXT NOT NULL,
	unit INTEGER NOT NULL,
	exam_type TEXT NOT NULL,
	start_ms BIGINT NOT NULL,
	finish_ms BIGINT NOT NULL,
	presented_ms BIGINT NOT NULL DEFAULT 0,
	score DOUBLE PRECISION NOT NULL,
	mastery_score DOUBLE PRECISION,
	passed TEXT NOT NULL,
	is_first_passed TEXT NOT NULL DEFAULT 'N',
	legal TEXT NOT NULL DEFAULT 'Y',
	proctored TEXT NOT NULL DEFAULT 'N',
	how_validated TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	subtests_json TEXT NOT NULL DEFAULT '{}',
	grades_json TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (student_id, exam_id, serial)
);

CREATE INDEX IF NOT EXISTS student_exams_by_type ON student_exams (student_id, exam_type);

CREATE TABLE IF NOT EXISTS exam_answers (
	student_id TEXT NOT NULL,
	exam_id TEXT NOT NULL,
	serial BIGINT NOT NULL,
	problem_id INTEGER NOT NULL,
	subtest TEXT NOT NULL DEFAULT '',
	objective TEXT NOT NULL DEFAULT '',
	ref TEXT NOT NULL DEFAULT '',
	answer TEXT NOT NULL,
	correct TEXT NOT NULL,
	weight DOUBLE PRECISION NOT NULL DEFAULT 1,
	PRIMARY KEY (student_id, exam_id, serial, problem_id)
);

CREATE TABLE IF NOT EXISTS placement_results (
	student_id TEXT NOT NULL,
	course TEXT NOT NULL,
	kind TEXT NOT NULL,
	exam_id TEXT NOT NULL,
	serial BIGINT NOT NULL,
	how_validated TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	awarded_ms BIGINT NOT NULL,
	PRIMARY KEY (student_id, course, kind, serial)
);

CREATE TABLE IF NOT EXISTS denied_results (
	student_id TEXT NOT NULL,
	course TEXT NOT NULL,
	kind TEXT NOT NULL,
	reason TEXT NOT NULL,
	exam_id TEXT NOT NULL,
	serial BIGINT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	denied_ms BIGINT NOT NULL,
	PRIMARY KEY (student_id, course, kind, serial)
);

CREATE TABLE IF NOT EXISTS admin_holds (
	student_id TEXT NOT NULL,
	hold_code TEXT NOT NULL,
	severity TEXT NOT NULL,
	times_display INTEGER NOT NULL DEFAULT 0,
	created_ms BIGINT NOT NULL,
	PRIMARY KEY (student_id, hold_code)
);

CREATE TABLE IF NOT EXISTS mastery_exams (
	exam_id TEXT PRIMARY KEY,
	course TEXT NOT NULL,
	unit INTEGER NOT NULL,
	objective INTEGER NOT NULL,
	template_ref TEXT NOT NULL,
	active TEXT NOT NULL DEFAULT 'Y'
);

CREATE TABLE IF NOT EXISTS mastery_attempts (
	serial BIGINT NOT NULL,
	exam_id TEXT NOT NULL,
	student_id TEXT NOT NULL,
	started_ms BIGINT NOT NULL,
	finished_ms BIGINT NOT NULL,
	score INTEGER NOT NULL,
	mastery_score INTEGER NOT NULL,
	passed TEXT NOT NULL,
	first_passed TEXT NOT NULL DEFAULT 'N',
	source TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (serial, exam_id)
);

CREATE TABLE IF NOT EXISTS mastery_attempt_answers (
	serial BIGINT NOT NULL,
	exam_id TEXT NOT NULL,
	question_nbr INTEGER NOT NULL,
	correct TEXT NOT NULL,
	PRIMARY KEY (serial, exam_id, question_nbr)
);

CREATE TABLE IF NOT EXISTS finalize_log (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	student_id TEXT NOT NULL,
	exam_id TEXT NOT NULL,
	serial BIGINT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_ms BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS store_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	sha256 TEXT NOT NULL,
	imported_ms BIGINT NOT NULL
);
`
