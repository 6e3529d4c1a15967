package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "MCI_DATABASE_TYPE"
const DATABASE_URL = "MCI_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "MCI_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "MCI_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "MCI_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_STUCK_RUNS_INTERVAL = "MCI_ENGINE_STUCK_RUNS_INTERVAL"
const ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES = "MCI_ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "MCI_ENGINE_BATCH_SIZE"     //number of runs to pull from the database at a time
const ENGINE_RUNNER_GROUP = "MCI_ENGINE_RUNNER_GROUP" //the group id of the runner that it will process runs from
const ENGINE_RUNNER_SIZE = "MCI_ENGINE_RUNNER_SIZE"   //number of workers to run ie the parallel nature of the jobs
const RUNNER_NAME = "MCI_RUNNER_NAME"                 //display name of this engine instance, defaults to the hostname
const WEB_SESSION_EXPIRY_HOURS = "MCI_WEB_SESSION_EXPIRY_HOURS"
const PIPELINE_DIR = "MCI_PIPELINE_DIR"           //directory scanned for pipeline yaml files
const SCHEDULER_ENABLED = "MCI_SCHEDULER_ENABLED" //set to false to disable cron triggers on this instance
const FORGE_BASE_URL = "MCI_FORGE_BASE_URL"       //base url of the forge REST api (issues, prs, labels)
const FORGE_API_TOKEN = "MCI_FORGE_API_TOKEN"
const FORGE_REPO = "MCI_FORGE_REPO"                   //owner/name of the repository the stale bot sweeps
const AVAILABLE_PROVIDERS = "MCI_AVAILABLE_PROVIDERS" //comma separated execution providers present on this host
const DEFAULT_BRANCH = "MCI_DEFAULT_BRANCH"           //branch assumed for schedule triggered runs

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}

	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_CHECK_DB_INTERVAL {
		return "3s"
	}
	if settingKey == ENGINE_STUCK_RUNS_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "5"
	}
	if settingKey == ENGINE_STUCK_RUNS_REPAIR_AFTER_MINUTES {
		return "5"
	}
	if settingKey == ENGINE_RUNNER_SIZE {
		return "5"
	}
	if settingKey == ENGINE_RUNNER_GROUP {
		return "default"
	}
	if settingKey == ENGINE_SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == WEB_SESSION_EXPIRY_HOURS {
		return "1"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./modelci.db"
	}
	if settingKey == PIPELINE_DIR {
		return "./pipelines"
	}
	if settingKey == SCHEDULER_ENABLED {
		return "true"
	}
	if settingKey == FORGE_BASE_URL {
		return "https://api.github.com"
	}
	if settingKey == AVAILABLE_PROVIDERS {
		return "CPUExecutionProvider"
	}
	if settingKey == DEFAULT_BRANCH {
		return "main"
	}
	return ""
}
