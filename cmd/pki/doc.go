// Command pki is the operator and verifier tool of the device PKI.
//
//	pki new
//	pki certify --seed 0x... --expiry 720h <deviceAddress>
//	pki verify --rpc-addr ws://127.0.0.1:9944 <certificate>
//	pki inspect --rpc-addr ws://127.0.0.1:9944 <signerAddress>
//	pki identity --device-url http://device:8080
//	pki burn --device-url http://device:8080 --seed 0x...
//	pki verify-device --device-url http://device1:8080 --device-url http://device2:8080 --rpc-addr ws://127.0.0.1:9944
package main
