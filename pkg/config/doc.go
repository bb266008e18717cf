// Package config loads the YAML configuration of a lunatic node.
//
// A configuration file names the node, the address it listens on, the PEM
// files of its identity and the tuning of the transport:
//
//	name: node-a
//	listen: "[::]:3030"
//	tls:
//	  ca: certs/ca.pem
//	  cert: certs/node-a.pem
//	  key: certs/node-a-key.pem
//	retries: 5
//	retry_backoff: 2s
//	chunk_size: 65536
//	max_message_size: 0
//	quic:
//	  max_idle_timeout: 30s
//	  keep_alive_period: 10s
//	metrics_addr: ":9090"
//	mdns: true
//	protocol_log: node-a.nlog
//	peers:
//	  - name: node-b
//	    addr: 10.0.0.2:3030
//
// Durations use Go duration syntax. Fields left out keep the values of
// Default.
package config
