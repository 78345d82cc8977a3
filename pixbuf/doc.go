/*
	Package pixbuf provides the types, constants, and functions shared by every layer of
	the pixel buffer service: tile addresses and their wire encoding, region
	normalization, pixel types, backend credentials, the failure taxonomy, and logging.
	It has no dependencies on other packages of the service.
*/
package pixbuf
