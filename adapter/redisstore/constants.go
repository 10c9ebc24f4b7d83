package redisstore

const defaultKeyPrefix = "xbeacon:"
