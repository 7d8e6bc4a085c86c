/*
Package config resolves the runtime's environment into one validated
Config value. Load reads a .env file via godotenv if present, then
decodes environment variables into Config via envconfig's struct-tag
reflection, then validates. Validate collects every problem into a single
*Error instead of returning on the first one, so a misconfigured
deployment sees everything wrong with it in one failed startup.
*/
package config
